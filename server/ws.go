package server

import (
	"context"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
	"github.com/panjf2000/ants/v2"
)

var upgrader = websocket.HertzUpgrader{
	CheckOrigin: func(ctx *app.RequestContext) bool {
		return true // 网关已做鉴权，允许跨域
	},
}

// 用户ID到连接的映射
var userConnMap sync.Map // map[userID]*websocket.Conn

var pushPool *ants.Pool

func init() {
	pool, err := ants.NewPool(1024)
	if err != nil {
		panic(err)
	}
	pushPool = pool
}

// Ping 健康检查
func Ping(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{"message": "pong"})
}

// EventSocket 用户事件推送通道。连接后按 X-User-Id 注册，
// 订单生命周期事件通过 Unicast 单播到该连接。
func EventSocket(ctx context.Context, c *app.RequestContext) {
	userID := string(c.GetHeader("X-User-Id"))
	if userID == "" {
		c.JSON(consts.StatusUnauthorized, map[string]interface{}{"error": "missing X-User-Id"})
		return
	}
	err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
		registerUserConn(userID, conn)
		defer func() {
			unregisterUserConn(userID, conn)
			_ = conn.Close()
			hlog.Infof("ws: connection closed, user=%s", userID)
		}()
		hlog.Infof("ws: connection opened, user=%s", userID)

		// 客户端不发业务消息，读循环只用于感知断开
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	if err != nil {
		hlog.Warnf("ws: upgrade error: %v", err)
	}
}

func registerUserConn(userID string, conn *websocket.Conn) {
	userConnMap.Store(userID, conn)
}

// unregisterUserConn removes the mapping only while it still points at
// this connection; a reconnect may already have replaced it.
func unregisterUserConn(userID string, conn *websocket.Conn) {
	if v, ok := userConnMap.Load(userID); ok && v == conn {
		userConnMap.Delete(userID)
	}
}

// Unicast 单播消息到指定 userID，无连接时静默丢弃
func Unicast(userID string, msg []byte) {
	v, ok := userConnMap.Load(userID)
	if !ok {
		return
	}
	conn, ok := v.(*websocket.Conn)
	if !ok {
		return
	}
	payload := make([]byte, len(msg))
	copy(payload, msg)
	err := pushPool.Submit(func() {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			hlog.Warnf("ws: push to user %s failed: %v", userID, err)
			unregisterUserConn(userID, conn)
			_ = conn.Close()
		}
	})
	if err != nil {
		hlog.Warnf("ws: push pool submit failed: %v", err)
	}
}
