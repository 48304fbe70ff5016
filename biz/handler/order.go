package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"cex-core/biz/model"
	"cex-core/biz/service"
)

type CreateOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TrailingDelta string `json:"trailing_delta,omitempty"`
}

type CreateOCORequest struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Amount         string `json:"amount"`
	LimitPrice     string `json:"limit_price"`
	StopPrice      string `json:"stop_price"`
	StopLimitPrice string `json:"stop_limit_price,omitempty"`
}

// CreateOrder RESTful 下单接口
func CreateOrder(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid amount"})
		return
	}
	params := service.CreateOrderParams{
		UserID:   id.UserID,
		Verified: id.Verified,
		Symbol:   req.Symbol,
		Side:     model.OrderSide(req.Side),
		Type:     model.OrderType(req.Type),
		Amount:   amount,
	}
	if params.LimitPrice, err = optDecimal(req.LimitPrice); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid limit_price"})
		return
	}
	if params.StopPrice, err = optDecimal(req.StopPrice); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid stop_price"})
		return
	}
	if params.TrailingDelta, err = optDecimal(req.TrailingDelta); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid trailing_delta"})
		return
	}

	order, err := orders.CreateOrder(ctx, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, order)
}

// CreateOCO 创建 OCO 订单对
func CreateOCO(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req CreateOCORequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid amount"})
		return
	}
	limitPrice, err := decimal.NewFromString(req.LimitPrice)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid limit_price"})
		return
	}
	stopPrice, err := decimal.NewFromString(req.StopPrice)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid stop_price"})
		return
	}
	params := service.CreateOCOParams{
		UserID:     id.UserID,
		Verified:   id.Verified,
		Symbol:     req.Symbol,
		Side:       model.OrderSide(req.Side),
		Amount:     amount,
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
	}
	if params.StopLimitPrice, err = optDecimal(req.StopLimitPrice); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid stop_limit_price"})
		return
	}

	limitLeg, stopLeg, err := orders.CreateOCO(ctx, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"limit_leg": limitLeg, "stop_leg": stopLeg})
}

// GetOrder 查询单个订单
func GetOrder(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	order, err := orders.GetOrder(ctx, id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, order)
}

// ListOrders 查询订单列表，可按状态过滤
func ListOrders(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	status := model.OrderStatus(c.Query("status"))
	list, err := orders.ListOrders(ctx, id.UserID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, list)
}

// CancelOrder 取消订单
func CancelOrder(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	order, err := orders.CancelOrder(ctx, id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, order)
}

// ListFills 查询订单成交记录
func ListFills(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	fills, err := orders.ListFills(ctx, id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, fills)
}

func optDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
