package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/notify"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/pipeline"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/queue"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/store"
)

// OrderReader loads orders for the read endpoints.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
}

// Submitter enqueues accepted submissions for the workers.
type Submitter interface {
	PublishOrder(ctx context.Context, msg queue.InboundMessage) error
}

// OrderService covers the orchestrator operations the API exposes.
type OrderService interface {
	Cancel(ctx context.Context, orderID string) (*models.Order, error)
	HandlePaymentWebhook(ctx context.Context, event *payments.WebhookEvent) error
}

// HealthCheck probes one component for the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP front of the pipeline: order submission, status
// reads, cancellation, payment webhooks and live progress websockets.
type Server struct {
	store    OrderReader
	queue    Submitter
	service  OrderService
	notifier pipeline.Notifier
	hub      *notify.Hub
	breakers map[string]*resilience.Breaker
	health   []HealthCheck

	webhookSecret string
	log           *slog.Logger
	upgrader      websocket.Upgrader
}

// Deps wires the server's collaborators.
type Deps struct {
	Store         OrderReader
	Queue         Submitter
	Service       OrderService
	Notifier      pipeline.Notifier
	Hub           *notify.Hub
	Breakers      map[string]*resilience.Breaker
	Health        []HealthCheck
	WebhookSecret string
	Logger        *slog.Logger
}

// NewServer creates the API server.
func NewServer(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:         d.Store,
		queue:         d.Queue,
		service:       d.Service,
		notifier:      d.Notifier,
		hub:           d.Hub,
		breakers:      d.Breakers,
		health:        d.Health,
		webhookSecret: d.WebhookSecret,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/orders", s.handleSubmitOrder)
		api.GET("/orders/:id", s.handleGetOrder)
		api.POST("/orders/:id/cancel", s.handleCancelOrder)
	}

	r.POST("/webhooks/payment", s.handlePaymentWebhook)
	r.GET("/ws/orders/:id", s.handleOrderSocket)

	return r
}

type submitRequest struct {
	CustomerRef string `json:"customer_ref" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

type submitResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_ref and text are required"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be blank"})
		return
	}
	if len(req.Text) > models.MaxRawTextLength {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "text exceeds the maximum accepted length",
		})
		return
	}

	correlationID := c.GetHeader("X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	order := models.NewOrder("", req.CustomerRef, req.Text, correlationID)
	if err := s.store.Create(c.Request.Context(), order); err != nil {
		s.log.Error("failed to create order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept order"})
		return
	}

	msg := queue.InboundMessage{
		OrderID:       order.ID,
		CustomerRef:   order.CustomerRef,
		RawText:       order.RawText,
		CorrelationID: order.CorrelationID,
	}
	if err := s.queue.PublishOrder(c.Request.Context(), msg); err != nil {
		s.log.Error("failed to enqueue order", "order_id", order.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order accepted but not queued, retry later"})
		return
	}

	if s.notifier != nil {
		s.notifier.Publish(models.ProcessingEvent{
			OrderID:       order.ID,
			Kind:          models.EventOrderReceived,
			Snapshot:      models.SnapshotOf(order),
			CorrelationID: order.CorrelationID,
			Timestamp:     time.Now().UTC(),
		})
	}

	c.JSON(http.StatusAccepted, submitResponse{
		OrderID:       order.ID,
		Status:        string(order.Status),
		CorrelationID: order.CorrelationID,
	})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.log.Error("failed to load order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	order, err := s.service.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, order)
	case errors.Is(err, pipeline.ErrOrderTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "order already settled",
			"status": string(order.Status),
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	default:
		s.log.Error("failed to cancel order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel order"})
	}
}

func (s *Server) handlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	signature := c.GetHeader("X-Paystack-Signature")
	if !payments.ValidateWebhookSignature(payload, signature, s.webhookSecret) {
		s.log.Warn("rejected webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := payments.ParseWebhookEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook payload"})
		return
	}

	if err := s.service.HandlePaymentWebhook(c.Request.Context(), event); err != nil {
		s.log.Error("webhook handling failed", "event", event.Event, "error", err)
		// Non-2xx makes the gateway redeliver; settlement is idempotent.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleOrderSocket(c *gin.Context) {
	orderID := c.Param("id")
	if _, err := s.store.Get(c.Request.Context(), orderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.hub.Subscribe(orderID)
	defer sub.Cancel()
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for event := range sub.Events {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
		if terminalEvent(event.Kind) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order settled"))
			return
		}
	}
}

func terminalEvent(kind models.EventKind) bool {
	switch kind {
	case models.EventPaymentCompleted, models.EventPaymentFailed,
		models.EventOrderCancelled, models.EventProcessingError:
		return true
	}
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := gin.H{}
	for _, h := range s.health {
		if err := h.Check(ctx); err != nil {
			components[h.Name] = gin.H{"healthy": false, "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			components[h.Name] = gin.H{"healthy": true}
		}
	}

	breakers := gin.H{}
	for name, b := range s.breakers {
		breakers[name] = b.Snapshot()
	}

	body := gin.H{
		"status":     "ok",
		"components": components,
		"breakers":   breakers,
	}
	if s.hub != nil {
		body["websocket_subscribers"] = s.hub.Subscribers()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
