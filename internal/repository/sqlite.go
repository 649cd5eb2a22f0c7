package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/synchronie/cotation/internal/domain"
)

const defaultSQLitePath = "./cotation.db"

// Pragmas applied to every ledger connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// openSQLite opens the ledger database on SQLite (community tier) with the
// pure Go modernc.org/sqlite driver.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite ledger %s: %w", path, err)
	}

	// one writer; also keeps a :memory: ledger on a single connection
	db.SetMaxOpenConns(1)

	return db, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?" + url.Values{"_pragma": sqlitePragmas}.Encode()
}
