package exporter

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine   *gin.Engine
	client   *zaptec.Client
	registry *prometheus.Registry
}

// NewRouter creates a new exporter router serving metrics and redacted
// diagnostics for the given client.
func NewRouter(client *zaptec.Client, registry *prometheus.Registry) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:   engine,
		client:   client,
		registry: registry,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.health)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))

	r.engine.GET("/installations", r.listInstallations)
	r.engine.GET("/chargers", r.listChargers)
	r.engine.GET("/chargers/:id", r.getCharger)
	r.engine.GET("/diagnostics", r.diagnostics)
}

// Handler exposes the engine as an http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
