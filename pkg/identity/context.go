package identity

import (
	"context"
	"log/slog"
)

type userCtxKey struct{}

// WithUser stores a copy of the user in the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u.Clone())
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*User)
	return u, ok && u != nil
}

// UserIDFromContext is shaped for audit extractors.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return u.ID.String(), true
}

// LoggerExtractor adds user_id and role to log records.
func LoggerExtractor() func(context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		u, ok := UserFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return slog.Group("user",
			slog.String("id", u.ID.String()),
			slog.String("role", string(u.Role)),
		), true
	}
}
