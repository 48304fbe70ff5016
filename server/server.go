package server

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"

	"cex-core/biz/handler"
	"cex-core/conf"
)

// New builds the HTTP server: REST trading surface plus the per-user
// event socket. Identity comes from the upstream gateway's headers, so
// there is no auth middleware here.
func New() *server.Hertz {
	cfg := conf.GetConf().Hertz
	h := server.Default(server.WithHostPorts(cfg.Address))
	h.NoHijackConnPool = true

	h.Use(cors.Default())
	if cfg.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if cfg.EnableAccessLog {
		h.Use(accesslog.New())
	}
	if cfg.EnablePprof {
		pprof.Register(h)
	}

	registerRoutes(h)
	return h
}

func registerRoutes(h *server.Hertz) {
	api := h.Group("/api/v1")

	api.POST("/orders", handler.CreateOrder)
	api.POST("/orders/oco", handler.CreateOCO)
	api.GET("/orders", handler.ListOrders)
	api.GET("/orders/:id", handler.GetOrder)
	api.DELETE("/orders/:id", handler.CancelOrder)
	api.GET("/orders/:id/fills", handler.ListFills)

	api.GET("/balances", handler.GetBalances)
	api.GET("/positions", handler.GetPositions)
	api.POST("/deposits", handler.Deposit)

	h.GET("/ws", EventSocket)
	h.GET("/ping", Ping)
}
