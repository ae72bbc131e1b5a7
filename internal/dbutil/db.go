// Package dbutil holds the shared sqlite connection plumbing used by
// the schema manager, device registry, and alert monitor.
package dbutil

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a sqlite database at uri, accepting both a bare
// filesystem path and the "sqlite:///path" form used in the ingestion
// config document. WAL mode and a busy timeout are always applied so
// the schema manager's DDL and the router's concurrent inserts don't
// collide under load.
func Open(uri string) (*sql.DB, error) {
	path := strings.TrimPrefix(uri, "sqlite:///")
	path = strings.TrimPrefix(path, "sqlite://")
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %q: %w", path, err)
	}
	return db, nil
}
