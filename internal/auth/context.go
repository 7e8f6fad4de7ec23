package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// CallerFrom returns the identity injected by RequireAccessToken.
func CallerFrom(ctx context.Context) (Caller, error) {
	id, err := UserID(ctx)
	if err != nil {
		return Caller{}, err
	}
	role, err := Role(ctx)
	if err != nil {
		return Caller{}, err
	}
	return Caller{ID: id, Role: role}, nil
}
