package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// taskContext holds values propagated from the request to a detached task.
// The new context is not derived from the request context on purpose: route
// pipelines must outlive the webhook request that spawned them.
type taskContext struct {
	correlationID string
	startTime     time.Time
	taskName      string
}

func capture(ctx context.Context, taskName string) taskContext {
	return taskContext{
		correlationID: logger.CorrelationIDFromContext(ctx),
		startTime:     time.Now(),
		taskName:      taskName,
	}
}

func (tc taskContext) newContext() context.Context {
	ctx := context.Background()
	if tc.correlationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, tc.correlationID)
	}
	return ctx
}

// Go runs a named function in a goroutine with correlation-ID propagation and
// panic recovery.
func Go(ctx context.Context, taskName string, fn func(ctx context.Context)) {
	tc := capture(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx := tc.newContext()
		fn(newCtx)

		logger.DebugContext(newCtx, "async task completed",
			zap.String("task", tc.taskName),
			zap.Duration("duration", time.Since(tc.startTime)),
		)
	}()
}

// GoWithTimeout runs a named function in a goroutine with a fresh deadline,
// correlation-ID propagation and panic recovery.
func GoWithTimeout(ctx context.Context, taskName string, timeout time.Duration, fn func(ctx context.Context)) {
	tc := capture(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx, cancel := context.WithTimeout(tc.newContext(), timeout)
		defer cancel()

		fn(newCtx)

		logger.DebugContext(newCtx, "async task completed",
			zap.String("task", tc.taskName),
			zap.Duration("duration", time.Since(tc.startTime)),
		)
	}()
}

func recoverWithLogging(tc taskContext) {
	if r := recover(); r != nil {
		logger.ErrorContext(tc.newContext(), "async task panicked",
			zap.String("task", tc.taskName),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
