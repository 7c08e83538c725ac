package middleware

import (
	"context"

	"judgehub/pkg/utils/contextkey"
)

func contextWithUser(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, contextkey.UserID, uid)
}
