package board

import (
	"context"
	"errors"

	"kanban-api/domain"
)

// Notifier receives committed board events.
type Notifier interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Notifiers fans an event out to every member, joining their errors.
type Notifiers []Notifier

func (n Notifiers) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, each := range n {
		if each == nil {
			continue
		}
		if err := each.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
