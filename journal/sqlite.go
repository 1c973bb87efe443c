package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	sqlStore
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// The engine writes from a single goroutine; one connection avoids
	// SQLITE_BUSY between the writer and the restart reader.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema %s: %w", path, err)
	}

	return &SQLite{sqlStore{db: db}}, nil
}
