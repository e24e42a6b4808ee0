// Package server wires the HTTP routes and middleware of the auth API.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "gogrow/backend/docs"
	healthhandler "gogrow/backend/internal/health/handler"
	identityhandler "gogrow/backend/internal/identity/handler"
	"gogrow/backend/internal/server/middleware"
)

// Deps holds what NewRouter needs. Logger may be nil.
type Deps struct {
	Auth           identityhandler.AuthService
	Gate           middleware.Authenticator
	Health         healthhandler.Pinger
	Logger         *zap.Logger
	ServiceName    string
	AllowedOrigins []string
}

// NewRouter builds the gin engine: recovery, request context, logging, tracing, CORS, the session
// gate, then the routes.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceName := d.ServiceName
	if serviceName == "" {
		serviceName = "gogrow-auth"
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestContext(),
		middleware.RequestLogger(logger),
		otelgin.Middleware(serviceName),
		corsMiddleware(d.AllowedOrigins),
		middleware.SessionAuth(d.Gate, middleware.DefaultPublicPaths(), logger),
	)

	r.GET("/health", healthhandler.NewHandler(d.Health, logger).Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/swagger.json", swaggerJSON)

	identityhandler.NewAuthHandler(d.Auth, logger).Register(r)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", middleware.RequestIDHeader)
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func swaggerJSON(c *gin.Context) {
	doc, err := swag.ReadDoc()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}
