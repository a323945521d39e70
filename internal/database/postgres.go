package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/demandcast/internal/config"
)

type PostgresDB struct {
	Pool   *pgxpool.Pool
	schema string
}

// NewPostgresConnection builds a sized connection pool and verifies that both
// the server and the tenant data schema are reachable before returning.
func NewPostgresConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}

	connectTimeout := 5 * time.Second
	if cfg.ConnectTimeout != "" {
		if parsed, err := time.ParseDuration(cfg.ConnectTimeout); err == nil {
			connectTimeout = parsed
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// The forecast tables live in a dedicated schema; surface a missing one
	// at startup instead of as a failed first query.
	var schemaExists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		cfg.Schema,
	).Scan(&schemaExists)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("check schema %q: %w", cfg.Schema, err)
	}
	if !schemaExists {
		logrus.WithField("schema", cfg.Schema).Warn("tenant data schema not found, run migrations")
	}

	logrus.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"dbname": cfg.DBName,
		"schema": cfg.Schema,
	}).Info("connected to PostgreSQL")

	return &PostgresDB{Pool: pool, schema: cfg.Schema}, nil
}

func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logrus.Info("PostgreSQL connection closed")
	}
}

// HealthCheck verifies connectivity and that the tenant data schema is still
// present.
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return err
	}
	var schemaExists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		db.schema,
	).Scan(&schemaExists)
	if err != nil {
		return fmt.Errorf("check schema %q: %w", db.schema, err)
	}
	if !schemaExists {
		return fmt.Errorf("schema %q not found", db.schema)
	}
	return nil
}
