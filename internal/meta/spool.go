package meta

import (
	"context"
	"errors"
	"fmt"
)

// EventSpool queues gateway events for later processing.
type EventSpool interface {
	// Stage validates ev and appends it to the queue.
	Stage(ev *Event) error

	// ProcessNext calls fn with the oldest queued event. The event is removed
	// only when fn returns nil.
	ProcessNext(fn func(ev *Event) error) error

	// Count returns the number of queued events.
	Count() (int, error)
}

// StageEvent validates ev and queues it on spool.
func (s *MetaService) StageEvent(spool EventSpool, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := spool.Stage(ev); err != nil {
		return fmt.Errorf("staging event: %w", err)
	}
	s.logger.Debug("event staged", "type", ev.Type, "path", ev.Destination.Path)
	return nil
}

// ProcessSpool applies queued events in order and returns how many were
// handled. Invalid and unresolvable events are logged and dropped; any other
// failure stops processing and leaves the event queued for a retry.
func (s *MetaService) ProcessSpool(ctx context.Context, spool EventSpool) (int, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		queued, err := spool.Count()
		if err != nil {
			return count, fmt.Errorf("checking spool: %w", err)
		}
		if queued == 0 {
			break
		}

		err = spool.ProcessNext(func(ev *Event) error {
			_, err := s.HandleEvent(ctx, ev)
			if errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrUnresolvedDestination) {
				s.logger.Warn("dropping event", "type", ev.Type, "error", err)
				return nil
			}
			return err
		})
		if err != nil {
			return count, fmt.Errorf("processing event: %w", err)
		}
		count++
	}

	s.logger.Info("spool processed", "count", count)
	return count, nil
}
