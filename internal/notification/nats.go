package notification

import (
	"context"
	"fmt"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NATSSink publishes every attack event as a protobuf Struct on a NATS subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to the configured NATS server.
func NewNATSSink(cfg config.NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("go2netsentinel"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS server", zap.String("url", cfg.URL), zap.String("subject", cfg.Subject))
	return &NATSSink{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Name implements model.AlertSink.
func (s *NATSSink) Name() string { return "nats" }

// Publish implements model.AlertSink.
func (s *NATSSink) Publish(ctx context.Context, events []model.AttackEvent) error {
	for _, e := range events {
		data, err := EncodeEvent(e)
		if err != nil {
			return err
		}
		if err := s.nc.Publish(s.subject, data); err != nil {
			return fmt.Errorf("failed to publish alert %s: %w", e.ID, err)
		}
	}
	return s.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.logger.Info("NATS connection drained and closed.")
	return err
}

// EncodeEvent serializes an attack event as a protobuf Struct.
func EncodeEvent(e model.AttackEvent) ([]byte, error) {
	payload, err := structpb.NewStruct(map[string]any{
		"id":          e.ID,
		"source_ip":   e.SourceIP,
		"count":       e.Count,
		"detected_at": e.DetectedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build alert payload: %w", err)
	}
	data, err := proto.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert payload: %w", err)
	}
	return data, nil
}
