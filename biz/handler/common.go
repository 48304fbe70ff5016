package handler

import (
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"cex-core/biz/service"
)

var (
	orders  *service.OrderService
	ledger  *service.Ledger
	tracker *service.PortfolioTracker
)

// Init wires the handler package to its services. Called once at startup.
func Init(o *service.OrderService, l *service.Ledger, t *service.PortfolioTracker) {
	orders = o
	ledger = l
	tracker = t
}

type identity struct {
	UserID   string
	Verified bool
}

// callerIdentity reads the identity headers set by the upstream gateway.
func callerIdentity(c *app.RequestContext) (identity, bool) {
	id := identity{
		UserID:   string(c.GetHeader("X-User-Id")),
		Verified: string(c.GetHeader("X-User-Verified")) == "true",
	}
	if id.UserID == "" {
		c.JSON(consts.StatusUnauthorized, map[string]interface{}{"error": "missing X-User-Id"})
		return id, false
	}
	return id, true
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(c *app.RequestContext, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, service.ErrInsufficientFunds):
		c.JSON(consts.StatusUnprocessableEntity, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "order not found"})
	case errors.Is(err, service.ErrNotCancellable):
		c.JSON(consts.StatusConflict, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, service.ErrOracleUnavailable):
		c.JSON(consts.StatusServiceUnavailable, map[string]interface{}{"error": "price feed unavailable, retry later"})
	default:
		hlog.Errorf("handler: internal error: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
	}
}
