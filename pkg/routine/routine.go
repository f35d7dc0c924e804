package routine

import (
	"context"
	"fmt"

	"github.com/go-slark/discovery/logger"
)

func Go(ctx context.Context, fn func()) {
	defer func(ctx context.Context) {
		if r := recover(); r != nil {
			logger.Log(ctx, logger.ErrorLevel, map[string]interface{}{"error": fmt.Sprintf("%+v", r)}, "routine recover")
		}
	}(ctx)
	fn()
}

// GoSafe runs fn on a new goroutine, recovering panics. The returned channel
// is closed when fn returns.
func GoSafe(ctx context.Context, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Go(ctx, fn)
	}()
	return done
}
