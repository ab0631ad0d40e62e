// Package notification delivers attack events to external systems.
package notification

import (
	"context"
	"errors"
	"io"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Sinks is the set of alert sinks enabled in the configuration.
type Sinks struct {
	List    []model.AlertSink
	closers []io.Closer
}

// Build connects every enabled sink. If one fails, the ones already
// connected are closed and the error is returned.
func Build(ctx context.Context, cfg config.AlertsConfig, logger *zap.Logger) (*Sinks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sinks{}

	if cfg.SMTP.Enabled {
		s.List = append(s.List, NewEmailSink(NewEmailNotifier(cfg.SMTP)))
		logger.Info("Email alerts enabled", zap.String("host", cfg.SMTP.Host), zap.String("to", cfg.SMTP.To))
	}
	if cfg.NATS.Enabled {
		sink, err := NewNATSSink(cfg.NATS, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.add(sink)
	}
	if cfg.ClickHouse.Enabled {
		sink, err := NewClickHouseSink(ctx, cfg.ClickHouse, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.add(sink)
	}
	return s, nil
}

func (s *Sinks) add(sink interface {
	model.AlertSink
	io.Closer
}) {
	s.List = append(s.List, sink)
	s.closers = append(s.closers, sink)
}

// Close releases every connection.
func (s *Sinks) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
