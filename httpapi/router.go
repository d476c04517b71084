// Package httpapi exposes the Stripe webhook endpoint and the operator
// routes over gin.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
	inboxcommand "github.com/goliatone/go-webhook-inbox/command"
	inboxquery "github.com/goliatone/go-webhook-inbox/query"
	"github.com/goliatone/go-webhook-inbox/webhooks"
	"github.com/google/uuid"
)

const (
	StripeWebhookPath = "/webhooks/stripe"
	// DefaultMaxBodyBytes is well above the largest Stripe event payload.
	DefaultMaxBodyBytes int64 = 1 << 20
	correlationHeader         = "X-Correlation-Id"
)

type Config struct {
	// AllowedOrigins limits CORS for the admin routes. Empty allows all.
	AllowedOrigins []string
	// AdminToken guards the /admin routes as a bearer token. The routes are
	// not mounted when it is empty.
	AdminToken   string
	MaxBodyBytes int64
}

// Handlers are the inbox operations the router dispatches to.
type Handlers struct {
	Receiver   *webhooks.Receiver
	Requeue    *inboxcommand.RequeueEventCommand
	ResetStuck *inboxcommand.ResetStuckEventCommand
	GetEvent   *inboxquery.GetEventQuery
	ListEvents *inboxquery.ListEventsQuery
	Logger     glog.Logger
}

type api struct {
	handlers     Handlers
	logger       glog.Logger
	maxBodyBytes int64
}

func NewRouter(cfg Config, handlers Handlers) *gin.Engine {
	a := &api{
		handlers:     handlers,
		logger:       glog.Ensure(handlers.Logger),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = DefaultMaxBodyBytes
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(correlationID())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST(StripeWebhookPath, a.stripeWebhook)

	token := strings.TrimSpace(cfg.AdminToken)
	if token != "" {
		admin := r.Group("/admin")
		admin.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
		admin.Use(requireBearer(token))
		admin.GET("/events", a.listEvents)
		admin.GET("/events/:event_id", a.getEvent)
		admin.POST("/events/:event_id/requeue", a.requeueEvent)
		admin.POST("/events/:event_id/reset", a.resetStuckEvent)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	if len(allowed) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowed
	}
	config.AddAllowMethods("GET", "POST", "OPTIONS")
	config.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	config.AddExposeHeaders("Content-Length", correlationHeader)
	return config
}

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(correlationHeader))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(correlationHeader, cid)
		c.Set("correlation_id", cid)
		c.Next()
	}
}

func requireBearer(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
