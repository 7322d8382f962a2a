package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chathistory/internal/models"
	"chathistory/internal/redis"
	"chathistory/internal/storage"
)

// Replier produces the assistant's next message from the ordered history.
type Replier interface {
	GenerateReply(ctx context.Context, history []models.Message, modelName string) (string, error)
}

// EventPublisher receives a notification after every successful write.
type EventPublisher interface {
	Publish(ctx context.Context, ev redis.Event)
}

// Handler wires HTTP routes to the store and the LLM client.
type Handler struct {
	store   *storage.Store
	replier Replier
	events  EventPublisher
	logger  *zap.Logger
}

// NewHandler constructs a Handler. events may be nil.
func NewHandler(store *storage.Store, replier Replier, events EventPublisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   store,
		replier: replier,
		events:  events,
		logger:  logger,
	}
}

// RegisterRoutes attaches middleware and all HTTP routes to the router.
// Collection routes answer with and without the trailing slash.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.RedirectTrailingSlash = false
	router.Use(requestID(), accessLog(h.logger), corsPolicy())

	router.GET("/healthz", h.health)

	for _, base := range []string{"/conversations", "/conversations/"} {
		router.POST(base, h.createConversation)
		router.GET(base, h.listConversations)
	}
	router.GET("/conversations/:id", h.getConversation)
	router.DELETE("/conversations/:id", h.deleteConversation)
	for _, path := range []string{"/conversations/:id/messages", "/conversations/:id/messages/"} {
		router.GET(path, h.listMessages)
		router.POST(path, h.createMessage)
	}
}

// conversationView is a conversation together with its ordered messages.
type conversationView struct {
	models.Conversation
	Messages []models.Message `json:"messages"`
}

func newConversationView(conv models.Conversation, messages []models.Message) conversationView {
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	return conversationView{Conversation: conv, Messages: messages}
}

type createConversationRequest struct {
	Title *string `json:"title"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	conv, err := storage.WithSession(ctx, h.store, func(sess *storage.Session) (*models.Conversation, error) {
		return sess.CreateConversation(ctx, req.Title)
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(ctx, redis.Event{Type: redis.EventConversationCreated, ConversationID: conv.ID})
	c.JSON(http.StatusCreated, newConversationView(*conv, nil))
}

func (h *Handler) listConversations(c *gin.Context) {
	ctx := c.Request.Context()
	views, err := storage.WithSession(ctx, h.store, func(sess *storage.Session) ([]conversationView, error) {
		convs, err := sess.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		grouped, err := sess.MessagesByConversation(ctx)
		if err != nil {
			return nil, err
		}
		views := make([]conversationView, 0, len(convs))
		for _, conv := range convs {
			views = append(views, newConversationView(conv, grouped[conv.ID]))
		}
		return views, nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) getConversation(c *gin.Context) {
	convID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	view, err := storage.WithSession(ctx, h.store, func(sess *storage.Session) (conversationView, error) {
		conv, err := sess.GetConversation(ctx, convID)
		if err != nil {
			return conversationView{}, err
		}
		history, err := sess.History(ctx, convID)
		if err != nil {
			return conversationView{}, err
		}
		return newConversationView(*conv, history), nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	convID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.WithTx(ctx, func(sess *storage.Session) error {
		return sess.DeleteConversation(ctx, convID)
	}); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(ctx, redis.Event{Type: redis.EventConversationDeleted, ConversationID: convID})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listMessages(c *gin.Context) {
	convID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	messages, err := storage.WithSession(ctx, h.store, func(sess *storage.Session) ([]models.Message, error) {
		exists, err := sess.ConversationExists(ctx, convID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, storage.ErrNotFound
		}
		return sess.ListMessages(ctx, convID)
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type createMessageRequest struct {
	// Content may be empty; only a missing field is rejected.
	Content *string `json:"content" binding:"required"`
	// Role is accepted for compatibility and always overwritten with "user".
	Role string `json:"role"`
}

type turn struct {
	user    *models.Message
	history []models.Message
}

// createMessage stores the user's message, asks the LLM for a reply using the
// full history and stores the reply. The user message is committed before the
// LLM call so it survives an LLM failure.
func (h *Handler) createMessage(c *gin.Context) {
	convID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	t, err := storage.WithSession(ctx, h.store, func(sess *storage.Session) (turn, error) {
		exists, err := sess.ConversationExists(ctx, convID)
		if err != nil {
			return turn{}, err
		}
		if !exists {
			return turn{}, storage.ErrNotFound
		}
		userMsg, err := sess.InsertMessage(ctx, models.Message{
			ConversationID: convID,
			Role:           models.RoleUser,
			Content:        *req.Content,
		})
		if err != nil {
			return turn{}, err
		}
		history, err := sess.History(ctx, convID)
		if err != nil {
			return turn{}, err
		}
		return turn{user: userMsg, history: history}, nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publishMessage(ctx, t.user)

	// a disconnecting client must not abort the completion or the write after it
	llmCtx := context.WithoutCancel(ctx)
	start := time.Now()
	reply, err := h.replier.GenerateReply(llmCtx, t.history, "")
	if err != nil {
		h.logger.Error("generate reply failed",
			zap.Int64("conversation_id", convID),
			zap.Int64("user_message_id", t.user.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	assistantMsg, err := storage.WithSession(llmCtx, h.store, func(sess *storage.Session) (*models.Message, error) {
		return sess.InsertMessage(llmCtx, models.Message{
			ConversationID: convID,
			Role:           models.RoleAssistant,
			Content:        reply,
		})
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publishMessage(llmCtx, assistantMsg)

	c.JSON(http.StatusCreated, gin.H{
		"user_message":      t.user,
		"assistant_message": assistantMsg,
	})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func conversationIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

// writeError maps store errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	h.logger.Error("storage failure",
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
}

func (h *Handler) publishMessage(ctx context.Context, msg *models.Message) {
	h.publish(ctx, redis.Event{
		Type:           redis.EventMessageCreated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Role:           msg.Role,
	})
}

func (h *Handler) publish(ctx context.Context, ev redis.Event) {
	if h.events == nil {
		return
	}
	h.events.Publish(context.WithoutCancel(ctx), ev)
}
