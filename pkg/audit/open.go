package audit

import (
	"context"
	"fmt"
)

// Backend names a Log implementation.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Open returns the Log for backend. target is a file path for file and
// sqlite, and a DSN for postgres.
func Open(ctx context.Context, backend Backend, target string) (Log, error) {
	if target == "" {
		return nil, fmt.Errorf("audit: %s backend requires a target", backend)
	}
	switch backend {
	case BackendFile, "":
		l, err := OpenFile(target)
		if err != nil {
			return nil, err
		}
		return l, nil
	case BackendSQLite, BackendPostgres:
		l, err := OpenSQL(ctx, Dialect(backend), target)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", backend)
	}
}

// Verify reads the full chain from l and checks it.
func Verify(ctx context.Context, l Log) (int, error) {
	records, err := l.Read(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	return len(records), VerifyChain(records)
}
