package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"transit-pulse/internal/general/config"
	"transit-pulse/internal/general/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const connectTimeout = 5 * time.Second

// NewPool connects a tuned pgxpool and verifies it with a bounded ping.
func NewPool(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pgxpool.Pool, error) {
	started := time.Now()

	dsn := buildDSN(cfg)

	log.Info(ctx, "db_config_check", "Effective DB connection parameters", map[string]any{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"user":     cfg.Database.User,
		"database": cfg.Database.Name,
	})

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}

	poolCfg.ConnConfig.ConnectTimeout = connectTimeout
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = make(map[string]string, 1)
	}
	// every timestamp in the schema is timestamptz; keep sessions in UTC so
	// scanned times match what the domain constructors produced
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info(ctx, "db_connected", "Connected to PostgreSQL database", map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return pool, nil
}

func buildDSN(cfg *config.Config) string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Database.Host, strconv.Itoa(cfg.Database.Port)),
		Path:     "/" + cfg.Database.Name,
		User:     url.UserPassword(cfg.Database.User, cfg.Database.Password),
		RawQuery: url.Values{"sslmode": []string{"disable"}}.Encode(),
	}
	return u.String()
}
