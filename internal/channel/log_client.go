package channel

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// LogClient пишет обновления в лог вместо отправки. Используется для dry-run.
type LogClient struct {
	logger *log.Entry
}

// NewLogClient создаёт dry-run транспорт.
func NewLogClient(logger *log.Entry) *LogClient {
	if logger == nil {
		logger = log.WithField("component", "channel-log-client")
	}
	return &LogClient{logger: logger}
}

func (c *LogClient) PushAvailability(ctx context.Context, updates []domain.AvailabilityUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range updates {
		c.logger.WithFields(log.Fields{
			"external_room_id": u.ExternalRoomID,
			"date":             domain.FormatDate(u.Date),
			"available":        u.Available,
		}).Info("availability update")
	}
	return nil
}

func (c *LogClient) PushRates(ctx context.Context, updates []domain.RateUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range updates {
		c.logger.WithFields(log.Fields{
			"external_room_id":      u.ExternalRoomID,
			"external_rate_plan_id": u.ExternalRatePlanID,
			"date_from":             domain.FormatDate(u.StartDate),
			"date_to":               domain.FormatDate(u.EndDate),
			"amount":                domain.FormatMinor(u.AmountMinor),
			"currency":              u.Currency,
		}).Info("rate update")
	}
	return nil
}

var _ domain.ChannelClient = (*LogClient)(nil)
