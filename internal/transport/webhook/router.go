package webhook

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// NewRouter собирает gin-движок приёма вебхуков. verifier может быть nil, тогда токен не проверяется.
func NewRouter(h *Handler, verifier *TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	group := r.Group("/webhooks/:channel")
	if verifier != nil {
		group.Use(h.RequireChannelToken(verifier))
	}
	group.POST("/reservations", h.ReceiveReservation)
	return r
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Debug("webhook request")
	}
}
