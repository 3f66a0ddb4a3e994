package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/samims/keepsake/internal/config"
)

// ConnectPostgres opens the notification database.
func ConnectPostgres(dbCfg config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(dbCfg.MaxOpenConn)
	db.SetConnMaxIdleTime(dbCfg.ConnMaxIdle)

	return db, nil
}
