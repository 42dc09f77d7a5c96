package statsstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
	"github.com/signalsfoundry/fabric-controller/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp DateTime64(3),
    Dpid      UInt64,
    Port      UInt32,
    RxPackets UInt64,
    TxPackets UInt64,
    RxBytes   UInt64,
    TxBytes   UInt64,
    RxDropped UInt64,
    TxDropped UInt64,
    RxErrors  UInt64,
    TxErrors  UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Dpid, Port, Timestamp);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseWriter appends every reply to a MergeTree table, one row per port.
type ClickHouseWriter struct {
	conn  driver.Conn
	table string
	log   logging.Logger
}

// NewClickHouseWriter connects, pings and makes sure the table exists.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, log logging.Logger) (*ClickHouseWriter, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: clickhouse table name %q", config.ErrInvalidConfig, cfg.Table)
	}
	if log == nil {
		log = logging.Noop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
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
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create table %s: %w", cfg.Table, err)
	}
	log.Info(ctx, "clickhouse stats sink ready",
		logging.String("database", cfg.Database),
		logging.String("table", cfg.Table),
	)
	return &ClickHouseWriter{conn: conn, table: cfg.Table, log: log}, nil
}

// Write inserts one row per port counter.
func (w *ClickHouseWriter) Write(ctx context.Context, reply model.PortStatsReply) error {
	if len(reply.Ports) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rows(reply) {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append port %v: %w", row[2], err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	w.log.Debug(ctx, "port stats written",
		logging.Switch(reply.Switch),
		logging.Int("ports", len(reply.Ports)),
	)
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error { return w.conn.Close() }

// rows lays out reply in table column order.
func rows(reply model.PortStatsReply) [][]any {
	out := make([][]any, 0, len(reply.Ports))
	for _, c := range reply.Ports {
		out = append(out, []any{
			reply.ReceivedAt,
			uint64(reply.Switch),
			uint32(c.Port),
			c.RxPackets,
			c.TxPackets,
			c.RxBytes,
			c.TxBytes,
			c.RxDropped,
			c.TxDropped,
			c.RxErrors,
			c.TxErrors,
		})
	}
	return out
}
