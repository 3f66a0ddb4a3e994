package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samims/keepsake/internal/delivery"
	"github.com/samims/keepsake/internal/storage"
	"github.com/samims/keepsake/internal/store"
)

const healthCheckTimeout = 2 * time.Second

// HealthService defines the interface for checking application health
type HealthService interface {
	Check(ctx context.Context) map[string]string
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthService is the concrete implementation of the HealthService
type healthService struct {
	components map[string]pinger
}

// NewHealthService creates a new instance of the health check service.
// The result is informational only and never gates a processing run.
func NewHealthService(
	keepsakes storage.KeepsakeStorage,
	recipients storage.RecipientStorage,
	notifications store.NotificationStorage,
	channels []delivery.Channel,
) HealthService {
	components := map[string]pinger{
		"keepsake_store":     keepsakes,
		"recipient_store":    recipients,
		"notification_store": notifications,
	}
	for _, ch := range channels {
		components["channel_"+ch.Name()] = ch
	}
	return &healthService{components: components}
}

// Check performs health checks on all critical dependencies
func (s *healthService) Check(ctx context.Context) map[string]string {
	healthStatus := make(map[string]string, len(s.components))

	for name, c := range s.components {
		// Use a timeout to prevent the health check from hanging
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		if err := c.Ping(checkCtx); err != nil {
			healthStatus[name] = fmt.Sprintf("error: %s", err.Error())
		} else {
			healthStatus[name] = "ok"
		}
		cancel()
	}

	return healthStatus
}

// Healthy reports whether every component in status answered ok.
func Healthy(status map[string]string) bool {
	for _, v := range status {
		if v != "ok" {
			return false
		}
	}
	return true
}
