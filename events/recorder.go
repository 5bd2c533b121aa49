package events

import (
	"context"
	"sync"

	"github.com/warp/fees-engine/generic"
)

// Recorder keeps everything it receives in memory and never forgets it.
// Tests assert against it; servers use LogNotifier instead.
type Recorder struct {
	mu     sync.Mutex
	events []generic.Event
	audit  []generic.AuditRecord
	// Err, when set, is returned from every call after recording.
	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, ev generic.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

func (r *Recorder) Record(_ context.Context, rec generic.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, rec)
	return r.Err
}

func (r *Recorder) Events() []generic.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]generic.Event(nil), r.events...)
}

// EventsOfType filters Events by type.
func (r *Recorder) EventsOfType(t generic.EventType) []generic.Event {
	var out []generic.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) AuditRecords() []generic.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]generic.AuditRecord(nil), r.audit...)
}
