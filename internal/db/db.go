package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bulkmailer/campaign-engine/internal/config"
)

// Open connects to Postgres and verifies the connection. Callers own the
// returned handle; there is no package-level singleton.
func Open(cfg config.DB) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}
