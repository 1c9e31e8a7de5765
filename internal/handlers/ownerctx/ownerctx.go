package ownerctx

import (
	"context"

	"github.com/opensharehq/pointsledger/internal/models"
)

// Principal is the authenticated caller: the lot owner plus the operator
// flag carried by back office tokens
type Principal struct {
	Owner    models.Owner
	Operator bool
}

type ctxKey string

const principalKey ctxKey = "principal"

// Create a new context with the principal
func New(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Extract the principal from the context
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
