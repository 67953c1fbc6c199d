package coordinator

import (
	"context"

	"github.com/pooledstream/psep"
)

func logDebug(l psep.Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Debug(ctx, msg, kv...)
	}
}

func logInfo(l psep.Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Info(ctx, msg, kv...)
	}
}

func logWarn(l psep.Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Warn(ctx, msg, kv...)
	}
}

func logError(l psep.Logger, ctx context.Context, msg string, kv ...any) {
	if l != nil {
		l.Error(ctx, msg, kv...)
	}
}
