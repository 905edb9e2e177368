package selfmessages

import "context"

// EventType tags an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry of a run's event stream. A stream carries zero or more
// progress events followed by exactly one complete or error event.
type Event struct {
	Type    EventType
	Message string
	Data    any
	Result  *Result
	Err     *RunError
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// MarshalJSON renders the wire payload sent to browsers and MCP clients.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventComplete:
		return EncodeJSON(struct {
			Complete bool    `json:"complete"`
			Data     *Result `json:"data"`
		}{Complete: true, Data: e.Result})
	case EventError:
		runErr := e.Err
		if runErr == nil {
			runErr = &RunError{Kind: ErrorKindFetchMessages}
		}
		return EncodeJSON(runErr)
	default:
		return EncodeJSON(struct {
			Progress string `json:"progress"`
			Data     any    `json:"data,omitempty"`
		}{Progress: e.Message, Data: e.Data})
	}
}

// Reporter emits the events of a single run. It is used by the run's goroutine only.
type Reporter struct {
	ctx      context.Context
	events   chan<- Event
	finished bool
}

func newReporter(ctx context.Context, events chan<- Event) *Reporter {
	return &Reporter{ctx: ctx, events: events}
}

// Progress emits a progress event. It is a no-op after the terminal event and on a nil Reporter.
func (r *Reporter) Progress(message string, data any) {
	if r == nil || r.finished {
		return
	}
	r.send(Event{Type: EventProgress, Message: message, Data: data})
}

func (r *Reporter) complete(result *Result) {
	if r == nil || r.finished {
		return
	}
	r.finished = true
	r.send(Event{Type: EventComplete, Result: result})
}

func (r *Reporter) fail(err *RunError) {
	if r == nil || r.finished {
		return
	}
	r.finished = true
	r.send(Event{Type: EventError, Err: err})
}

// send blocks until the consumer reads the event or goes away.
func (r *Reporter) send(ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Collect drains a run's events and returns its result. A stream that closes
// without a terminal event is reported as canceled.
func Collect(ctx context.Context, events <-chan Event) (*Result, error) {
	return CollectWithProgress(ctx, events, nil)
}

// CollectWithProgress is Collect with a callback invoked for every progress event.
func CollectWithProgress(ctx context.Context, events <-chan Event, onProgress func(Event)) (*Result, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, newRunError(ErrorKindCanceled, "run interrupted", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return nil, newRunError(ErrorKindCanceled, "event stream closed before completion", ctx.Err())
			}
			switch ev.Type {
			case EventProgress:
				if onProgress != nil {
					onProgress(ev)
				}
			case EventComplete:
				return ev.Result, nil
			case EventError:
				if ev.Err == nil {
					return nil, newRunError(ErrorKindFetchMessages, "run failed", nil)
				}
				return nil, ev.Err
			}
		}
	}
}
