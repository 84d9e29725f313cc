package auth

import "context"

type contextKey struct{}

// AuthContext describes the trading login a request is acting as.
type AuthContext struct {
	Login       string
	SignupID    int64
	Email       string
	AccountType string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func Login(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Login
}

func SignupID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.SignupID
}

// IsDemo reports whether the session login is the record's demo account.
func IsDemo(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.AccountType == "demo"
}
