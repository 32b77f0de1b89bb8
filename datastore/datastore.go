package datastore

import (
	"context"
	"io"

	"github.com/danthegoodman1/icelake/gologger"
)

var (
	logger = gologger.NewLogger()
)

type (
	// DataStore stores whole column files. Paths are table-rooted, e.g.
	// "warehouse/default/events/region=us/part-abc_0000.parquet".
	DataStore interface {
		// WriteFile stores a full file, returning the number of bytes written
		WriteFile(ctx context.Context, path string, data io.Reader) (int64, error)
		// ReadFile loads a full file
		ReadFile(ctx context.Context, path string) ([]byte, error)

		Shutdown(ctx context.Context) error
	}
)
