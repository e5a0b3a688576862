package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/proctor_backend_v1/internal/config"
	"github.com/zaqqye/proctor_backend_v1/internal/controllers"
	"github.com/zaqqye/proctor_backend_v1/internal/engine"
	"github.com/zaqqye/proctor_backend_v1/internal/middleware"
	"github.com/zaqqye/proctor_backend_v1/internal/oracle"
	"github.com/zaqqye/proctor_backend_v1/internal/registry"
	"github.com/zaqqye/proctor_backend_v1/internal/store"
	"github.com/zaqqye/proctor_backend_v1/internal/ws"
)

func Register(r *gin.Engine, db *gorm.DB, cfg *config.Config, logger *zap.SugaredLogger) {
	expiresMins, err := time.ParseDuration(cfg.JWTExpiresIn + "m")
	if err != nil || expiresMins == 0 {
		expiresMins = 60 * time.Minute
	}

	incidentLog := store.NewIncidentLog(db)
	hub := ws.NewSessionHub()
	go hub.Run()

	assessor := oracle.New(cfg.OracleBaseURL, cfg.OracleTimeout)
	eng := engine.New(incidentLog, assessor, engine.Options{
		MaxWarnings:    cfg.MaxWarnings,
		MaxTabSwitches: cfg.MaxTabSwitches,
		Notifier:       hub,
		Logger:         logger,
	})

	reg := registry.New(db, incidentLog)
	refresher := registry.NewRefresher(reg, hub, cfg.RegistryRefresh, clock.New(), logger)
	go refresher.Run(context.Background())

	authCtrl := &controllers.AuthController{DB: db, JWTSecret: cfg.JWTSecret, ExpiresIn: expiresMins}
	proctorCtrl := &controllers.ProctorController{Engine: eng}
	sessionCtrl := &controllers.SessionController{Registry: reg, Engine: eng}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public: the exam client probes without an account; sessions are
	// identified by opaque client-generated tokens.
	r.POST("/api/v1/proctor/analyze-frame", proctorCtrl.AnalyzeFrame)

	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", authCtrl.Login)
	}

	authMW := middleware.AuthMiddleware(db, middleware.AuthConfig{
		JWTSecret:    cfg.JWTSecret,
		JWTExpiresIn: expiresMins,
	})
	api := r.Group("/api/v1", authMW)
	{
		api.GET("/auth/me", authCtrl.Me)

		// Reviewer surface (admin passes every role gate)
		admin := api.Group("/admin", middleware.RequireRoles("reviewer", "admin"))
		{
			admin.GET("/sessions", sessionCtrl.ListSessions)
			admin.GET("/sessions/:session_id", sessionCtrl.GetSession)
			admin.POST("/sessions/:session_id/terminate", sessionCtrl.Terminate)
			admin.POST("/sessions/:session_id/flag", sessionCtrl.Flag)
			admin.POST("/sessions/:session_id/complete", sessionCtrl.Complete)

			admin.POST("/users", middleware.RequireRoles("admin"), authCtrl.Register)
		}

		api.GET("/ws/sessions", ws.SessionHandler(hub))
	}
}
