package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 15 * time.Second

type timerFeed interface {
	Subscribe(ctx context.Context, batchID string) (<-chan []domain.Timer, error)
}

type notificationFeed interface {
	Local(ctx context.Context) <-chan notify.Notification
	Background(ctx context.Context) <-chan notify.Notification
}

// EventsHandler streams a batch's view, its timers and user notifications as
// server-sent events.
type EventsHandler struct {
	navs      navigators
	timers    timerFeed
	feed      notificationFeed
	logger    *slog.Logger
	heartbeat time.Duration
}

func NewEventsHandler(navs navigators, timers timerFeed, feed notificationFeed, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		navs:      navs,
		timers:    timers,
		feed:      feed,
		logger:    logger.With("component", "events_handler"),
		heartbeat: defaultHeartbeat,
	}
}

func (h *EventsHandler) Stream(ctx *gin.Context) {
	batchID := ctx.Param("id")
	nav, err := h.navs.Get(batchID, middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, h.logger, "stream events", err)
		return
	}

	reqCtx, cancel := context.WithCancel(requestContext(ctx))
	defer cancel()

	views := nav.Subscribe(reqCtx)
	timers, err := h.timers.Subscribe(reqCtx, batchID)
	if err != nil {
		// ended batches have no timers left; the view stream still runs
		timers = nil
	}
	local := h.feed.Local(reqCtx)
	background := h.feed.Background(reqCtx)

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)
	ctx.Writer.Flush()

	h.logger.InfoContext(reqCtx, "event stream opened")
	defer h.logger.InfoContext(reqCtx, "event stream closed")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return
		case v, ok := <-views:
			if !ok {
				// navigator closed
				ctx.SSEvent("closed", gin.H{"batch_id": batchID})
				ctx.Writer.Flush()
				return
			}
			ctx.SSEvent("view", v)
		case t, ok := <-timers:
			if !ok {
				timers = nil
				continue
			}
			ctx.SSEvent("timers", t)
		case n, ok := <-local:
			if !ok {
				local = nil
				continue
			}
			ctx.SSEvent("notification", n)
		case n, ok := <-background:
			if !ok {
				background = nil
				continue
			}
			ctx.SSEvent("background", n)
		case <-heartbeat.C:
			ctx.SSEvent("ping", time.Now().UTC().Unix())
		}
		ctx.Writer.Flush()
	}
}
