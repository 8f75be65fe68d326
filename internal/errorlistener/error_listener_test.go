package errorlistener

import (
	"testing"
	"time"

	"evcsms/internal"
)

func TestErrorsToday(t *testing.T) {
	listener := NewErrorListener(internal.NewLogger(time.UTC), time.UTC)
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	listener.OnError(&ErrorData{ChargePointId: "CP1", Direction: "IN", Code: "InternalError", Time: day})
	listener.OnError(&ErrorData{ChargePointId: "CP1", Direction: "OUT", Code: "NotImplemented", Time: day.Add(time.Hour)})
	listener.OnError(&ErrorData{ChargePointId: "CP2", Direction: "IN", Code: "GenericError", Time: day})

	if got := listener.ErrorsToday("CP1", day); got != 2 {
		t.Errorf("CP1 errors = %d; want 2", got)
	}
	if got := listener.ErrorsToday("CP2", day); got != 1 {
		t.Errorf("CP2 errors = %d; want 1", got)
	}

	next := day.Add(24 * time.Hour)
	if got := listener.ErrorsToday("CP1", next); got != 0 {
		t.Errorf("next day errors = %d; want 0", got)
	}
	listener.OnError(&ErrorData{ChargePointId: "CP1", Direction: "IN", Code: "InternalError", Time: next})
	if got := listener.ErrorsToday("CP1", next); got != 1 {
		t.Errorf("errors after day change = %d; want 1", got)
	}
}
