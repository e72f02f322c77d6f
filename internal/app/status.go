package app

import (
	"context"
	"net/http"
	"time"

	"dx-bots/internal/balance"
	"dx-bots/internal/state"
	"dx-bots/internal/throttle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const recentReceipts = 20

type botsStatus struct {
	StartedAt time.Time        `json:"startedAt"`
	Markets   []string         `json:"markets"`
	InFlight  []string         `json:"inFlight"`
	Balance   *balance.Info    `json:"balance,omitempty"`
	Cooldowns []throttle.Entry `json:"cooldowns"`
	Receipts  []state.Receipt  `json:"receipts"`
}

func (a *App) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bots", a.handleBots)
	if a.prom != nil {
		r.GET("/metrics", gin.WrapH(a.prom.Handler()))
	}
	return r
}

func (a *App) handleBots(c *gin.Context) {
	c.JSON(http.StatusOK, a.status(c.Request.Context()))
}

func (a *App) status(ctx context.Context) botsStatus {
	out := botsStatus{
		StartedAt: a.startedAt,
		Markets:   marketNames(a.markets),
		InFlight:  a.InFlight(),
		Cooldowns: []throttle.Entry{},
		Receipts:  []state.Receipt{},
	}
	if a.monitor != nil {
		info := a.monitor.Info()
		out.Balance = &info
	}
	if a.throttle != nil {
		out.Cooldowns = a.throttle.Snapshot()
	}
	if a.executor != nil {
		receipts, err := a.executor.Recent(ctx, recentReceipts)
		if err != nil {
			a.log.Warn("recent receipts read failed", zap.Error(err))
		} else if len(receipts) > 0 {
			out.Receipts = receipts
		}
	}
	return out
}
