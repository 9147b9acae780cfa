// Package notify emits the change notification of a sweep.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/toposync/internal/logger"
)

// DefaultTopic is the event name downstream consumers subscribe to.
const DefaultTopic = "destination.update"

// Event describes a sweep that changed persisted state.
type Event struct {
	Topic               string    `json:"event"`
	SweepID             string    `json:"sweep_id"`
	At                  time.Time `json:"at"`
	Inserted            int       `json:"inserted"`
	AvailabilityChanges int       `json:"availability_changes"`
	Endpoints           []string  `json:"endpoints"`
}

// Notifier delivers one Event. Delivery failures are returned, never retried.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Mode selects a Notifier implementation.
type Mode string

const (
	ModeRedis   Mode = "redis"
	ModeWebhook Mode = "webhook"
	ModeLog     Mode = "log"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRedis, ModeWebhook, ModeLog:
		return m, nil
	default:
		return "", fmt.Errorf("unknown notify mode %q", s)
	}
}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// LogNotifier writes the event to the logger only.
type LogNotifier struct {
	logger logger.Logger
}

// NewLog creates a LogNotifier.
func NewLog(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info("topology changed",
		logger.String("event", ev.Topic),
		logger.String("sweep_id", ev.SweepID),
		logger.Int("inserted", ev.Inserted),
		logger.Int("availability_changes", ev.AvailabilityChanges),
		logger.Strings("endpoints", ev.Endpoints))
	return nil
}
