package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/utility"
)

var ErrCommandTimeout = errors.New("command timed out")

type Result struct {
	Payload json.RawMessage
	Err     error
}

// Request is one outbound call waiting for its reply
type Request struct {
	ConnectionId  string
	CorrelationId string
	Action        string
	Deadline      time.Time
	done          chan Result
}

// Wait blocks until the request settles or the context is done
func (r *Request) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case result := <-r.done:
		return result.Payload, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tracker holds outbound requests per connection session
type Tracker struct {
	mutex    sync.Mutex
	requests map[string]map[string]*Request
	logger   internal.LogHandler
	interval time.Duration
	now      func() time.Time
}

func NewTracker(logger internal.LogHandler, interval time.Duration) *Tracker {
	return &Tracker{
		requests: make(map[string]map[string]*Request),
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) Register(connectionId, action string, deadline time.Time) (string, *Request) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	set, ok := t.requests[connectionId]
	if !ok {
		set = make(map[string]*Request)
		t.requests[connectionId] = set
	}
	correlationId := utility.NewUUID()
	for set[correlationId] != nil {
		correlationId = utility.NewUUID()
	}
	request := &Request{
		ConnectionId:  connectionId,
		CorrelationId: correlationId,
		Action:        action,
		Deadline:      deadline,
		done:          make(chan Result, 1),
	}
	set[correlationId] = request
	return correlationId, request
}

// take removes the request from its set; must be called with the mutex held
func (t *Tracker) take(connectionId, correlationId string) *Request {
	set, ok := t.requests[connectionId]
	if !ok {
		return nil
	}
	request, ok := set[correlationId]
	if !ok {
		return nil
	}
	delete(set, correlationId)
	if len(set) == 0 {
		delete(t.requests, connectionId)
	}
	return request
}

func (t *Tracker) settle(connectionId, correlationId string, result Result) bool {
	t.mutex.Lock()
	request := t.take(connectionId, correlationId)
	t.mutex.Unlock()
	if request == nil {
		t.logger.FeatureEvent("Pending", connectionId, fmt.Sprintf("late or unsolicited reply: %s", correlationId))
		return false
	}
	request.done <- result
	return true
}

// Resolve settles the request with the reply payload; unknown ids are ignored
func (t *Tracker) Resolve(connectionId, correlationId string, payload json.RawMessage) bool {
	return t.settle(connectionId, correlationId, Result{Payload: payload})
}

func (t *Tracker) Reject(connectionId, correlationId string, err error) bool {
	return t.settle(connectionId, correlationId, Result{Err: err})
}

// Cancel drops the request without settling it
func (t *Tracker) Cancel(connectionId, correlationId string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.take(connectionId, correlationId)
}

// ExpireOverdue fails every request past its deadline with ErrCommandTimeout
func (t *Tracker) ExpireOverdue() int {
	now := t.now()
	var overdue []*Request
	t.mutex.Lock()
	for connectionId, set := range t.requests {
		for correlationId, request := range set {
			if now.After(request.Deadline) {
				overdue = append(overdue, request)
				delete(set, correlationId)
			}
		}
		if len(set) == 0 {
			delete(t.requests, connectionId)
		}
	}
	t.mutex.Unlock()

	for _, request := range overdue {
		request.done <- Result{Err: fmt.Errorf("%s %s: %w", request.Action, request.CorrelationId, ErrCommandTimeout)}
	}
	return len(overdue)
}

// FailAll settles every request of the connection with err
func (t *Tracker) FailAll(connectionId string, err error) int {
	t.mutex.Lock()
	set := t.requests[connectionId]
	delete(t.requests, connectionId)
	t.mutex.Unlock()

	for _, request := range set {
		request.done <- Result{Err: err}
	}
	return len(set)
}

func (t *Tracker) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	count := 0
	for _, set := range t.requests {
		count += len(set)
	}
	return count
}

func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.ExpireOverdue()
				counters.ObservePendingRequests(t.Count())
			}
		}
	}()
}
