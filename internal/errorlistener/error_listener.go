package errorlistener

import (
	"fmt"
	"sync"
	"time"

	"evcsms/internal"
	"evcsms/metrics/counters"
)

type ErrorData struct {
	ChargePointId string
	Direction     string
	Code          string
	Description   string
	Time          time.Time
}

// ErrorListener keeps track of CALLERROR frames in both directions
type ErrorListener struct {
	log      internal.LogHandler
	location *time.Location
	mutex    sync.Mutex
	day      string
	today    map[string]int
}

func NewErrorListener(log internal.LogHandler, location *time.Location) *ErrorListener {
	if location == nil {
		location = time.UTC
	}
	return &ErrorListener{
		log:      log,
		location: location,
		today:    make(map[string]int),
	}
}

func (e *ErrorListener) OnError(data *ErrorData) {
	e.log.FeatureEvent("CallError", data.ChargePointId, fmt.Sprintf("%s %s: %s", data.Direction, data.Code, data.Description))
	counters.ObserveError(data.Direction, data.ChargePointId, data.Code)

	e.mutex.Lock()
	defer e.mutex.Unlock()
	day := data.Time.In(e.location).Format("2006-01-02")
	if day != e.day {
		e.day = day
		e.today = make(map[string]int)
	}
	e.today[data.ChargePointId]++
}

// ErrorsToday returns the number of errors of the charge point since local midnight
func (e *ErrorListener) ErrorsToday(chargePointId string, now time.Time) int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if now.In(e.location).Format("2006-01-02") != e.day {
		return 0
	}
	return e.today[chargePointId]
}
