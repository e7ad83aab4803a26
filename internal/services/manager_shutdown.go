package services

import (
	"context"
)

// Shutdown stops the roles in reverse dependency order: intake first, then
// the coordinator and workers, then the shared components. It is safe to
// call after a partial Init or without Start.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.rabbit != nil {
		m.logger.Info("Stopping RabbitMQ adapter...")
		if err := m.rabbit.Close(); err != nil {
			m.logger.Error("Error closing RabbitMQ adapter", "error", err)
		}
	}

	if m.server != nil {
		m.logger.Info("Stopping HTTP server...")
		if err := m.server.Stop(ctx); err != nil {
			m.logger.Error("Error shutting down HTTP server", "error", err)
		}
	}

	if m.coordinator != nil {
		if err := m.coordinator.Stop(ctx); err != nil {
			m.logger.Error("Error stopping coordinator", "error", err)
		}
	}

	if m.pool != nil {
		if err := m.pool.Stop(ctx); err != nil {
			m.logger.Error("Error stopping worker pool", "error", err)
		}
	}

	// The kafka poll loop exits on cancel.
	if m.cancel != nil {
		m.cancel()
	}

	m.logger.Info("Waiting for background tasks to finish...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Background tasks finished.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for background tasks.")
	}

	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.logger.Error("Error closing publisher", "error", err)
		}
	}
	if m.provider != nil {
		m.logger.Info("Closing notification provider...")
		if err := m.provider.Close(); err != nil {
			m.logger.Error("Error closing notification provider", "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(ctx); err != nil {
			m.logger.Error("Error closing event store", "error", err)
		}
	}
}
