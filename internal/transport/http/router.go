package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

const eventsPath = "/batches/:id/events"

func NewRouter(
	logger *slog.Logger,
	batchHandler *handler.BatchHandler,
	processHandler *handler.ProcessHandler,
	timerHandler *handler.TimerHandler,
	eventsHandler *handler.EventsHandler,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters:          []sloggin.Filter{sloggin.IgnorePath("/ping")},
	}))
	r.Use(middleware.Metrics(eventsPath))

	r.GET("/ping", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	authMW := middleware.Auth(jwtKey)

	// Batch lifecycle and navigation
	batches := r.Group("/batches", authMW)
	batches.POST("", batchHandler.Start)
	batches.POST("/:id/open", processHandler.Open)
	batches.DELETE("/:id/open", processHandler.Close)
	batches.GET("/:id/view", processHandler.View)
	batches.POST("/:id/steps/change", processHandler.ChangeStep)
	batches.POST("/:id/steps/complete", processHandler.CompleteStep)
	batches.POST("/:id/steps/active", processHandler.GoToActiveStep)
	batches.POST("/:id/calendar/start", processHandler.StartCalendar)
	batches.POST("/:id/calendar/change-date", processHandler.ChangeDate)
	batches.GET("/:id/alerts", processHandler.Alerts)
	batches.DELETE("/:id/alerts", processHandler.ClearAlerts)
	batches.GET("/:id/timers", timerHandler.List)
	batches.GET("/:id/events", eventsHandler.Stream)

	// Timer controls
	timers := r.Group("/timers", authMW)
	timers.POST("/:id/start", timerHandler.Start)
	timers.POST("/:id/stop", timerHandler.Stop)
	timers.POST("/:id/reset", timerHandler.Reset)
	timers.POST("/:id/add-time", timerHandler.AddTime)

	return r
}
