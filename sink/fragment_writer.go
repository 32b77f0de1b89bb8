package sink

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/parquet_codec"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/schema"
)

// fragmentWriter buffers one task's rows for one destination file and
// encodes+stores them on close. Task-local: never shared across goroutines.
type fragmentWriter struct {
	path   string
	schema *schema.Schema
	values []partition.ColumnValue
	rows   []map[string]any
}

func (fw *fragmentWriter) writeRows(rows []map[string]any) {
	fw.rows = append(fw.rows, rows...)
}

// close encodes the buffered rows to parquet and writes the file, returning
// the commit-ready file record.
func (fw *fragmentWriter) close(ctx context.Context, store datastore.DataStore) (metastore.DataFile, error) {
	buf, err := parquet_codec.WriteRows(fw.schema, fw.rows)
	if err != nil {
		return metastore.DataFile{}, fmt.Errorf("error encoding parquet for %s: %w", fw.path, err)
	}
	n, err := store.WriteFile(ctx, fw.path, buf)
	if err != nil {
		return metastore.DataFile{}, fmt.Errorf("error storing %s: %w", fw.path, err)
	}
	return metastore.DataFile{
		Path:      fw.path,
		SizeBytes: n,
		RowCount:  int64(len(fw.rows)),
		Schema:    fw.schema,
	}, nil
}
