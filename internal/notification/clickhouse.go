package notification

import (
	"context"
	"fmt"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS attack_events (
    ID          String,
    SourceIP    String,
    Count       UInt32,
    DetectedAt  DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(DetectedAt)
ORDER BY (DetectedAt, SourceIP);
`

// ClickHouseSink stores attack events in the attack_events table.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and ensures the table exists.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createAlertsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Successfully connected to ClickHouse and ensured table exists.")
	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

// Name implements model.AlertSink.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Publish implements model.AlertSink.
func (s *ClickHouseSink) Publish(ctx context.Context, events []model.AttackEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO attack_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(e.ID, e.SourceIP, uint32(e.Count), e.DetectedAt); err != nil {
			return fmt.Errorf("failed to append alert to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.logger.Debug("Wrote alerts to ClickHouse", zap.Int("count", len(events)))
	return nil
}

// Close closes the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
