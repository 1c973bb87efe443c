package journal

import (
	"context"
	"fmt"
	"strings"
)

// Open picks a store from a DSN:
//
//	""                          Discard
//	csv:<dir>                   per-pair CSV files under dir
//	sqlite:<path>, *.db         SQLite file
//	bolt:<path>, *.bolt         bbolt file
//	postgres://..., postgresql://...
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "none":
		return Discard{}, nil
	case strings.HasPrefix(dsn, "csv:"):
		return NewCSV(strings.TrimPrefix(dsn, "csv:"))
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "bolt:"):
		return NewBolt(strings.TrimPrefix(dsn, "bolt:"))
	case strings.HasSuffix(dsn, ".bolt"):
		return NewBolt(dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return NewSQLite(dsn)
	}
	return nil, fmt.Errorf("unsupported journal dsn %q", dsn)
}
