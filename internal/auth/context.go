package auth

import "context"

type contextKey struct{}

// AuthContext describes the signed-in user of a request.
type AuthContext struct {
	UserID    int64
	Email     string
	SessionID string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func IsSignedIn(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}
