package database

import (
	"context"
	"fmt"
	"time"

	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/internal/logger"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

func New(cfg *config.Config, log *zerolog.Logger, ls *logger.LoggerService) (*Database, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.Database.ConnMaxLifetime) * time.Second
	poolCfg.MaxConnIdleTime = time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second

	pgxLogger := logger.NewPgxLogger(log.GetLevel())
	poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   &queryTracer{log: &pgxLogger, slow: cfg.Observability.Logging.SlowQueryThreshold},
		LogLevel: tracelog.LogLevel(logger.GetPgxTraceLogLevel(log.GetLevel())),
	}

	// Register shopspring decimal codecs so numeric columns scan straight
	// into decimal.Decimal.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Name).
		Msg("Connected to Postgres successfully")

	return &Database{Pool: pool, log: log}, nil
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Database) Close() {
	db.log.Info().Msg("Closing database connection pool")
	db.Pool.Close()
}

// queryTracer adapts zerolog to pgx's tracelog interface.
type queryTracer struct {
	log  *zerolog.Logger
	slow time.Duration
}

func (t *queryTracer) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var event *zerolog.Event

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		event = t.log.Debug()
	case tracelog.LogLevelInfo:
		event = t.log.Debug()
	case tracelog.LogLevelWarn:
		event = t.log.Warn()
	case tracelog.LogLevelError:
		event = t.log.Error()
	default:
		event = t.log.Debug()
	}

	if d, ok := data["time"].(time.Duration); ok && t.slow > 0 && d > t.slow {
		event = t.log.Warn().Str("slow_query", "true")
	}

	for k, v := range data {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
