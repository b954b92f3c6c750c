package services

import (
	"context"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// ProgressFunc observes each message of a response as soon as it is materialized, before the whole call
// returns. It must not block.
type ProgressFunc func(models.Message)

type progressKey struct{}

// WithProgress returns a context that makes SendMessage report every retained message to fn.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFromContext(ctx context.Context) ProgressFunc {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok || fn == nil {
		return func(models.Message) {}
	}
	return fn
}
