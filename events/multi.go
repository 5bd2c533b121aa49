package events

import (
	"context"
	"errors"

	"github.com/warp/fees-engine/generic"
)

// Multi fans events and audit records out to every sink. A failing sink
// doesn't stop delivery to the others; the errors are joined.
type Multi struct {
	notifiers []generic.Notifier
	sinks     []generic.AuditSink
}

func NewMulti() *Multi {
	return &Multi{}
}

func (m *Multi) AddNotifier(n generic.Notifier) *Multi {
	if n != nil {
		m.notifiers = append(m.notifiers, n)
	}
	return m
}

func (m *Multi) AddAuditSink(s generic.AuditSink) *Multi {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, ev generic.Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Record(ctx context.Context, rec generic.AuditRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
