package sink

import (
	"context"

	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

// RowsSource adapts pre-materialized rows to the Source interface, one slice
// per upstream partition. Used by the HTTP insert path and tests; real query
// engines hand the sink their own Source.
type RowsSource struct {
	schema     *schema.Schema
	partitions [][]map[string]any
	batchSize  int
}

func NewRowsSource(s *schema.Schema, batchSize int, partitions ...[]map[string]any) *RowsSource {
	if batchSize <= 0 {
		batchSize = 1024
	}
	return &RowsSource{
		schema:     s,
		partitions: partitions,
		batchSize:  batchSize,
	}
}

func (rs *RowsSource) PartitionCount() int {
	return len(rs.partitions)
}

func (rs *RowsSource) Execute(_ context.Context, partition int) (rowbatch.Stream, error) {
	rows := rs.partitions[partition]
	var batches []*rowbatch.Batch
	for start := 0; start < len(rows); start += rs.batchSize {
		end := start + rs.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rowbatch.NewBatch(rs.schema, rows[start:end]))
	}
	return rowbatch.NewSliceStream(rs.schema, batches), nil
}
