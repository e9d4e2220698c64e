package server

import (
	"net/http"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/auth"
	"github.com/ademjemaa/42-push-sub000/internal/config"
	"github.com/ademjemaa/42-push-sub000/internal/metrics"
	"github.com/ademjemaa/42-push-sub000/internal/mw"
	"github.com/ademjemaa/42-push-sub000/internal/service"
	"github.com/ademjemaa/42-push-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, registry *ws.Registry) *gin.Engine {
	userSvc := service.NewUserService(db, cfg)
	contactSvc := service.NewContactService(db)
	msgSvc := service.NewMessageService(db, contactSvc)
	h := NewHandler(userSvc, contactSvc, msgSvc, registry)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg, db))

	authed.GET("/users/me", h.Me)
	authed.PUT("/users/me", h.UpdateMe)
	authed.GET("/users/me/avatar", h.GetAvatar)
	authed.PUT("/users/me/avatar", h.SetAvatar)

	authed.GET("/contacts", h.ListContacts)
	authed.POST("/contacts", h.AddContact)
	authed.PUT("/contacts/:id", h.UpdateContact)
	authed.DELETE("/contacts/:id", h.DeleteContact)
	authed.GET("/contacts/:id/avatar", h.GetContactAvatar)
	authed.PUT("/contacts/:id/avatar", h.SetContactAvatar)

	authed.GET("/messages/conversation/:contactId", h.Conversation)
	authed.POST("/messages/send", h.SendMessage)

	r.GET("/ws", ws.Serve(registry, db, cfg, msgSvc))

	return r
}
