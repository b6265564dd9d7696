// Package webhook принимает уведомления о бронях от каналов по HTTP.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
)

const (
	// HeaderDeliveryID задаёт ключ идемпотентности доставки.
	HeaderDeliveryID = "X-Delivery-Id"
	// HeaderReplay выставляется, когда ответ взят из сохранённой доставки.
	HeaderReplay = "X-Idempotent-Replay"

	defaultMaxBodyBytes = 1 << 20
	defaultDeliveryTTL  = 24 * time.Hour
)

const (
	resultAccepted     = "accepted"
	resultReplayed     = "replayed"
	resultConflict     = "conflict"
	resultRejected     = "rejected"
	resultUnauthorized = "unauthorized"
	resultError        = "error"
)

// Options задаёт параметры приёма вебхуков.
type Options struct {
	Deliveries   domain.IdempotencyRepository
	DeliveryTTL  time.Duration
	MaxBodyBytes int64
	Metrics      *metrics.SyncMetrics
	Logger       *log.Entry
	Clock        domain.Clock
}

// Handler сохраняет тело доставки как InboundEvent без разбора. Сверка идёт позже в фоне.
type Handler struct {
	inbound      domain.InboundRepository
	deliveries   domain.IdempotencyRepository
	deliveryTTL  time.Duration
	maxBodyBytes int64
	metrics      *metrics.SyncMetrics
	logger       *log.Entry
	now          domain.Clock
}

type acceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// NewHandler создаёт обработчик вебхуков.
func NewHandler(inbound domain.InboundRepository, opts Options) *Handler {
	if opts.DeliveryTTL <= 0 {
		opts.DeliveryTTL = defaultDeliveryTTL
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "webhook")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		inbound:      inbound,
		deliveries:   opts.Deliveries,
		deliveryTTL:  opts.DeliveryTTL,
		maxBodyBytes: opts.MaxBodyBytes,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Clock,
	}
}

// ReceiveReservation обрабатывает POST /webhooks/:channel/reservations.
func (h *Handler) ReceiveReservation(c *gin.Context) {
	channel := strings.TrimSpace(c.Param("channel"))
	logger := h.logger.WithField("channel", channel)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.reject(c, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		h.reject(c, http.StatusBadRequest, "empty payload")
		return
	}

	deliveryID := strings.TrimSpace(c.GetHeader(HeaderDeliveryID))
	key := ""
	if deliveryID != "" && h.deliveries != nil {
		key = domain.DeliveryKey(channel, deliveryID)
		logger = logger.WithField("delivery_key", key)

		record, err := h.deliveries.CreateProcessing(c.Request.Context(), key, domain.RequestHash(body), h.now().Add(h.deliveryTTL))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			h.metrics.RecordWebhook(resultConflict)
			c.JSON(http.StatusConflict, gin.H{"error": "delivery id reused with different payload"})
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			switch record.Status {
			case domain.IdempotencyStatusDone:
				h.metrics.RecordWebhook(resultReplayed)
				c.Header(HeaderReplay, "true")
				c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
				return
			case domain.IdempotencyStatusProcessing:
				h.metrics.RecordWebhook(resultConflict)
				c.JSON(http.StatusConflict, gin.H{"error": "delivery is being processed"})
				return
			}
			// failed: предыдущая попытка не сохранила событие, пробуем снова
		default:
			logger.WithError(err).Error("failed to register delivery")
			h.metrics.RecordWebhook(resultError)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	event, err := h.inbound.Append(c.Request.Context(), domain.InboundEvent{
		Channel:    channel,
		Payload:    string(body),
		ReceivedAt: h.now(),
	})
	if err != nil {
		logger.WithError(err).Error("failed to store inbound event")
		h.metrics.RecordWebhook(resultError)
		if key != "" {
			if markErr := h.deliveries.MarkFailed(c.Request.Context(), key, nil, http.StatusInternalServerError); markErr != nil {
				logger.WithError(markErr).Warn("failed to mark delivery as failed")
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	response, _ := json.Marshal(acceptedResponse{EventID: event.ID, Status: resultAccepted})
	if key != "" {
		if err := h.deliveries.MarkDone(c.Request.Context(), key, response, http.StatusAccepted); err != nil {
			logger.WithError(err).Warn("failed to mark delivery as done")
		}
	}

	logger.WithField("event_id", event.ID).Info("inbound event accepted")
	h.metrics.RecordWebhook(resultAccepted)
	c.Data(http.StatusAccepted, "application/json; charset=utf-8", response)
}

func (h *Handler) reject(c *gin.Context, status int, message string) {
	h.metrics.RecordWebhook(resultRejected)
	c.JSON(status, gin.H{"error": message})
}
