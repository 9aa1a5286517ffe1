package relay

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/degenetics/lootchat/config"
	"github.com/degenetics/lootchat/domain"
)

// Fixed response bodies for the chat endpoint. Upstream error detail is
// logged server-side only and never leaked to the client.
const (
	msgMessagesRequired = "Messages are required"
	msgGenerateFailed   = "Failed to generate response"
)

// Handler handles relay HTTP requests.
type Handler struct {
	client *Client
	logger *zap.Logger
	config *config.Config
}

// NewHandler creates a new relay handler.
func NewHandler(cfg *config.Config, logger *zap.Logger) *Handler {
	client := NewClient(cfg.UpstreamURL, cfg.UpstreamAPIKey, cfg.Model, cfg.RequestBudget)
	return &Handler{
		client: client,
		logger: logger,
		config: cfg,
	}
}

// RegisterRoutes registers relay routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
	e.GET("/api/models", h.ListModels)
	e.GET("/health", h.Health)
}

// Chat forwards a conversation to the upstream provider and re-emits the
// decoded deltas as a chunked text/plain body.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil || len(req.Messages) == 0 {
		return c.String(http.StatusBadRequest, msgMessagesRequired)
	}

	// The relay injects its own system prompt; client-supplied system
	// entries are dropped.
	upstream := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	upstream = append(upstream, domain.ChatMessage{
		Role:    string(domain.RoleSystem),
		Content: h.config.SystemPrompt,
	})
	for _, m := range req.Messages {
		if m.Role == string(domain.RoleSystem) {
			continue
		}
		upstream = append(upstream, m)
	}

	stream, err := h.client.StreamChatCompletion(ctx, upstream)
	if err != nil {
		h.logger.Error("upstream request failed", zap.Error(err))
		return c.String(http.StatusInternalServerError, msgGenerateFailed)
	}
	defer stream.Close()

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported by response writer")
		return c.String(http.StatusInternalServerError, msgGenerateFailed)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)

	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream failure: the connection terminates early,
			// the status is already committed.
			h.logger.Warn("stream terminated early", zap.Error(err))
			break
		}
		if _, err := io.WriteString(c.Response(), delta); err != nil {
			h.logger.Warn("client write failed", zap.Error(err))
			break
		}
		flusher.Flush()
	}

	return nil
}

// ListModels passes through the upstream models list.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	ctx := c.Request().Context()

	models, err := h.client.ListModels(ctx)
	if err != nil {
		h.logger.Error("failed to list models", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list models"})
	}

	return c.JSON(http.StatusOK, ModelsResponse{
		Object: "list",
		Data:   models,
	})
}

// Health is the liveness probe.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
