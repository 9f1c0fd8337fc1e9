package queue

import (
	"fmt"

	config "github.com/maheshrc27/campaignflow/configs"
	"go.uber.org/zap"
)

// LanesFromConfig maps lane names to their worker settings.
func LanesFromConfig(cfg config.LanesConfig) map[string]config.Lane {
	return map[string]config.Lane{
		LaneDelivery:    cfg.Delivery,
		LaneAnalytics:   cfg.Analytics,
		LaneMaintenance: cfg.Maintenance,
	}
}

// NewBroker builds the broker selected by cfg.Broker.
func NewBroker(cfg *config.Config, log *zap.Logger) (Broker, error) {
	lanes := LanesFromConfig(cfg.Lanes)
	switch cfg.Broker {
	case "asynq":
		return NewAsynqBroker(cfg.RedisURI, lanes, log)
	case "memory":
		return NewMemoryBroker(lanes, log), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
