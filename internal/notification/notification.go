// File: internal/notification/notification.go
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

const (
	// EventType identifies attempt notifications
	EventType = "rollover.attempt"
	// EventSource identifies this service as the sender
	EventSource = "rollover-caller"
	// EventVersion is the payload schema version
	EventVersion = "1.0"
)

// Notifier delivers attempt events to one channel
type Notifier interface {
	Name() string
	Send(ctx context.Context, event *AttemptEvent) error
	Close() error
}

// AttemptEvent is the payload every channel receives
type AttemptEvent struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Attempt   *models.Attempt `json:"attempt"`
}

// NewAttemptEvent wraps an attempt in the notification envelope
func NewAttemptEvent(attempt *models.Attempt) *AttemptEvent {
	return &AttemptEvent{
		Type:      EventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Attempt:   attempt,
	}
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalSent     uint64     `json:"total_sent"`
	TotalFailed   uint64     `json:"total_failed"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}

// Manager fans attempt events out to every configured channel. Delivery
// failures are logged and counted, never returned.
type Manager struct {
	notifiers []Notifier
	timeout   time.Duration
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Entry

	mu    sync.RWMutex
	stats NotificationStats
}

// NewManager creates a manager over the given notifiers. pm may be nil.
func NewManager(timeout time.Duration, pm *metrics.PrometheusMetrics, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		timeout:   timeout,
		metrics:   pm,
		logger:    utils.ComponentLogger("notification"),
	}
}

// NewManagerFromConfig builds the channels named in cfg
func NewManagerFromConfig(cfg *config.NotificationConfig, pm *metrics.PrometheusMetrics) (*Manager, error) {
	var notifiers []Notifier

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}

	if cfg.NATSURL != "" {
		natsNotifier, err := NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, natsNotifier)
	}

	return NewManager(cfg.Timeout, pm, notifiers...), nil
}

// Enabled reports whether any channel is configured
func (m *Manager) Enabled() bool {
	return len(m.notifiers) > 0
}

// Channels returns the configured channel names
func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Notify sends the attempt to every channel concurrently and waits for all of them
func (m *Manager) Notify(ctx context.Context, attempt *models.Attempt) {
	if len(m.notifiers) == 0 {
		return
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	event := NewAttemptEvent(attempt)

	var wg sync.WaitGroup
	for _, n := range m.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			m.deliver(ctx, n, event)
		}(n)
	}
	wg.Wait()
}

func (m *Manager) deliver(ctx context.Context, n Notifier, event *AttemptEvent) {
	logger := m.logger.WithFields(logrus.Fields{
		"channel":    n.Name(),
		"attempt_id": event.Attempt.ID,
	})

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = utils.NewAppError(utils.ErrCodeNotification, "Notifier panicked", n.Name())
			}
		}()
		return n.Send(ctx, event)
	}()

	status := "success"
	m.mu.Lock()
	if err != nil {
		status = "error"
		now := time.Now()
		m.stats.TotalFailed++
		m.stats.LastError = err.Error()
		m.stats.LastErrorTime = &now
	} else {
		m.stats.TotalSent++
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordNotification(n.Name(), status)
	}

	if err != nil {
		logger.WithError(err).Warn("Failed to deliver attempt notification")
		return
	}
	logger.Debug("Attempt notification delivered")
}

// GetStats returns a copy of the delivery statistics
func (m *Manager) GetStats() NotificationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Close releases every channel
func (m *Manager) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
