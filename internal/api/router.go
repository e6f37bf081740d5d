package api

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"highwayhub/voice/internal/hub"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/store"
)

type Deps struct {
	Rooms    store.Rooms
	Events   *store.EventLog
	Provider Provider
	// Hub is nil when rooms live on Daily.
	Hub         *hub.Hub
	Limiter     *Limiter
	RoomPrefix  string
	CORSOrigins []string
	Logger      *log.Logger
}

type Router struct {
	deps   Deps
	engine *gin.Engine
	logger *log.Logger
}

func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	r := &Router{
		deps:   deps,
		engine: engine,
		logger: deps.Logger,
	}

	r.engine.Use(func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		if route == "/healthz" || route == "/metrics" {
			return
		}
		r.logger.Info("Request",
			log.String("method", c.Request.Method),
			log.String("url", c.Request.URL.Path),
			log.Int("status", c.Writer.Status()))
	})

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.engine.POST("/voice/room", r.createRoom)
	r.engine.POST("/voice/token", r.issueToken)
	r.engine.GET("/voice/rooms/:room/participants", r.listParticipants)
	r.engine.GET("/voice/rooms/:room/events", r.listEvents)

	if r.deps.Hub != nil {
		r.engine.GET("/ws/rooms/:room", func(c *gin.Context) {
			r.deps.Hub.ServeWS(c.Writer, c.Request, c.Param("room"))
		})
	}
}
