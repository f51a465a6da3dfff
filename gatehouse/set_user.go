package gatehouse

import (
	"context"
	"errors"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/identity"
	"github.com/gatehouse-security/gatehouse-go/internal/log"
	"github.com/gatehouse-security/gatehouse-go/internal/request"
)

var ErrUserIDEmpty = errors.New("user id cannot be empty")

// SetUser associates an authenticated user with the current request context
// so rate limits are keyed per user instead of per client fingerprint.
// This function must be called before the gatehouse middleware is executed.
func SetUser(ctx context.Context, id string) (context.Context, error) {
	if config.IsGatehouseDisabled() {
		return ctx, nil
	}

	if id == "" {
		return ctx, ErrUserIDEmpty
	}

	reqCtx := request.GetContext(ctx)
	if reqCtx == nil || reqCtx.HasMiddlewareExecuted() {
		log.Info("gatehouse.SetUser(...) must be called before the gatehouse middleware is executed.")
		return ctx, nil
	}

	user := identity.New(id, reqCtx.GetIP(), reqCtx.GetUserAgent())
	reqCtx.SetUser(&user)

	return ctx, nil
}
