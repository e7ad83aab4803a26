package services

import (
	"context"
	"fmt"
)

// Start starts every initialized role. Listeners and the kafka poll loop run
// in the background until Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.pool != nil {
		if err := m.pool.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}

	if m.coordinator != nil {
		if err := m.coordinator.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start coordinator: %w", err)
		}
	}

	if m.rabbit != nil {
		if err := m.rabbit.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start rabbitmq adapter: %w", err)
		}
	}

	if m.kafka != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.logger.Info("Starting Kafka consumer...")
			if err := m.kafka.Run(bgCtx); err != nil {
				m.logger.Error("Kafka consumer stopped with error", "error", err)
			}
		}()
	}

	if m.server != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.server.Start(bgCtx); err != nil {
				m.logger.Error("HTTP server stopped with error", "error", err)
			}
		}()
	}

	m.logger.Info("Services started",
		"coordinator", m.coordinator != nil,
		"workers", m.pool != nil,
		"kafka", m.kafka != nil,
		"rabbitmq", m.rabbit != nil,
		"api", m.server != nil,
	)
	return nil
}
