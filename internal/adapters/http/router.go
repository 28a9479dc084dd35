package http

import (
	"context"
	"net/http"
	"slices"

	"github.com/dkeye/deskrelay/internal/adapters/signal"
	"github.com/dkeye/deskrelay/internal/app"
	"github.com/dkeye/deskrelay/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware tags every request with a stable per-browser token
// kept in the cookie session. It only correlates log lines.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func corsConfig(origins []string) cors.Config {
	cc := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	cc.AllowMethods = []string{"GET", "OPTIONS"}
	cc.AllowWebSockets = true
	return cc
}

func SetupRouter(ctx context.Context, cfg *config.Config, broker *app.Broker, ctl *signal.SignalWSController, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(cfg.Mode)

	r := gin.New()
	if cfg.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("deskrelay", store))
	r.Use(ClientTokenMiddleware())

	// GET /: process status
	r.GET("/", func(c *gin.Context) {
		st := broker.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":          "Remote Desktop Server Running",
			"active_sessions": st.Sessions,
			"hosts":           st.Hosts,
			"viewers":         st.Viewers,
		})
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")

	// GET /api/sessions: same snapshot as get_sessions
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": broker.ListSessions()})
	})

	// GET /api/connections: live transport connections with their client token
	api.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": ctl.Registry.Connections()})
	})

	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
