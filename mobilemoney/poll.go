package mobilemoney

import (
	"context"
	"time"
)

// StatusReader is the read side Poll observes.
type StatusReader interface {
	GetStatus(ctx context.Context, intentID string) (StatusView, error)
}

// Poll reads the intent's status every interval until it is terminal or
// ctx is done. On cancellation or deadline it returns the last status it
// saw together with ctx.Err(). It only reads: giving up on a poll leaves
// the intent exactly as it was.
func Poll(ctx context.Context, r StatusReader, intentID string, interval time.Duration) (StatusView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last StatusView
	for {
		view, err := r.GetStatus(ctx, intentID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			return last, err
		}
		last = view
		if view.Status.IsTerminal() {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
