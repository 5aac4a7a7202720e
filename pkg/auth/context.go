package auth

import (
	"context"
	"errors"

	"github.com/beam-cloud/synopsis/pkg/types"
)

type ctxKey int

const identityKey ctxKey = iota

var ErrAuthRequired = errors.New("authentication required")

func WithIdentity(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) *types.Identity {
	id, _ := ctx.Value(identityKey).(*types.Identity)
	return id
}

func RequireIdentity(ctx context.Context) (*types.Identity, error) {
	id := IdentityFromContext(ctx)
	if id == nil {
		return nil, ErrAuthRequired
	}
	return id, nil
}
