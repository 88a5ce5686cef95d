package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"docchat/src/core/docchat"
	"docchat/src/log"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
)

// TenantHeader carries the caller's tenant id. Authentication happens
// upstream; this service trusts the header.
const TenantHeader = "X-User-ID"

const defaultMaxUploadBytes = 32 << 20

type DocChatService interface {
	NewChat(ctx context.Context, tenantID, instanceID string) (*instancectrl.Instance, error)
	Ingest(ctx context.Context, req docchat.IngestRequest) (*docchat.IngestResult, error)
	Ask(ctx context.Context, req docchat.AskRequest) (*docchat.AskResult, error)
	History(ctx context.Context, tenantID, instanceID string) ([]messagectrl.Message, error)
	Delete(ctx context.Context, tenantID, instanceID string) error
}

type ChatService interface {
	Create(ctx context.Context, tenantID, instanceID string) (*instancectrl.Instance, error)
	UpdateTopic(ctx context.Context, tenantID, instanceID, topic string) error
	AppendMessage(ctx context.Context, tenantID, instanceID, messageID, text string, isHuman bool) (*messagectrl.Message, error)
	History(ctx context.Context, tenantID, instanceID string) ([]messagectrl.Message, error)
	AddIndex(ctx context.Context, tenantID, instanceID, indexID, indexName string) (*messagectrl.IndexEntry, error)
	ListIndex(ctx context.Context, tenantID, instanceID string) ([]messagectrl.IndexEntry, error)
	Delete(ctx context.Context, tenantID, instanceID string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	docChats       DocChatService
	chats          ChatService
	checks         map[string]HealthCheck
	metrics        http.Handler
	maxUploadBytes int64
	logger         logr.Logger
}

type Option func(*Handler)

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func WithLogger(l logr.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(docChats DocChatService, chats ChatService, opts ...Option) *Handler {
	h := &Handler{
		docChats:       docChats,
		chats:          chats,
		checks:         make(map[string]HealthCheck),
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         log.Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithName("http")
	return h
}

// RegisterRoutes registers all v1 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(RequestLogger(h.logger), gin.Recovery())

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.CheckHealth)

	tenant := v1.Group("", requireTenant)

	// Document chat routes
	tenant.POST("/doc-chats/:instanceId", h.NewDocChat)
	tenant.POST("/doc-chats/:instanceId/document", h.UploadDocument)
	tenant.POST("/doc-chats/:instanceId/ask", h.Ask)
	tenant.GET("/doc-chats/:instanceId/messages", h.DocChatMessages)
	tenant.DELETE("/doc-chats/:instanceId", h.DeleteDocChat)

	// Plain chat routes
	tenant.POST("/chats/:instanceId", h.CreateChat)
	tenant.PUT("/chats/:instanceId/topic", h.UpdateTopic)
	tenant.POST("/chats/:instanceId/messages", h.AppendMessage)
	tenant.GET("/chats/:instanceId/messages", h.ChatMessages)
	tenant.POST("/chats/:instanceId/index", h.AddIndex)
	tenant.GET("/chats/:instanceId/index", h.ListIndex)
	tenant.DELETE("/chats/:instanceId", h.DeleteChat)
}

func requireTenant(c *gin.Context) {
	if c.GetHeader(TenantHeader) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Reason: TenantHeader + " header is required"})
		return
	}
	c.Next()
}

func tenantID(c *gin.Context) string {
	return c.GetHeader(TenantHeader)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, docchat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, docchat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docchat.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, docchat.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, docchat.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, docchat.ErrUnsupportedFormat):
		return "unsupported document format"
	case errors.Is(err, docchat.ErrValidation):
		return "invalid request"
	case errors.Is(err, docchat.ErrCollectionNotFound):
		return "no document has been uploaded for this chat"
	case errors.Is(err, docchat.ErrNotFound):
		return "not found"
	case errors.Is(err, docchat.ErrConflict):
		return "conflict"
	case errors.Is(err, docchat.ErrRateLimited):
		return "model provider is rate limiting requests"
	case errors.Is(err, docchat.ErrProvider):
		return "model provider failed"
	case errors.Is(err, docchat.ErrPartialFailure):
		return "operation partially failed"
	default:
		return "internal error"
	}
}

func sendError(c *gin.Context, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Reason: reasonOf(err)}
	// internal details stay in the logs
	if status < http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
