package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
)

// 查询用户余额
func GetBalances(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	balances, err := ledger.Balances(ctx, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, balances)
}

// 查询用户持仓（含加权平均成本）
func GetPositions(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	positions, err := tracker.Positions(ctx, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	type positionView struct {
		Asset         string `json:"asset"`
		Amount        string `json:"amount"`
		TotalInvested string `json:"total_invested"`
		AvgCost       string `json:"avg_cost"`
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Asset:         p.Asset,
			Amount:        p.Amount.String(),
			TotalInvested: p.TotalInvested.String(),
			AvgCost:       p.AvgCost().String(),
		})
	}
	c.JSON(consts.StatusOK, views)
}

type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Deposit 入金接口，由上游清算系统调用
func Deposit(ctx context.Context, c *app.RequestContext) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "invalid amount"})
		return
	}
	if req.Asset == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "missing asset"})
		return
	}
	if err := ledger.Deposit(ctx, id.UserID, req.Asset, amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"status": "credited"})
}
