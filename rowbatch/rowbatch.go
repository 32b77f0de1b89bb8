package rowbatch

import (
	"context"

	"github.com/danthegoodman1/icelake/schema"
)

type (
	// Batch is a group of rows sharing one schema. Rows are flat maps keyed by
	// column name, same shape the HTTP insert path and the parquet codec use.
	Batch struct {
		Schema *schema.Schema
		Rows   []map[string]any
	}

	// Stream produces batches until exhausted. Next returns (nil, nil) when
	// the stream is done. Implementations are not safe for concurrent Next
	// calls.
	Stream interface {
		StreamSchema() *schema.Schema
		Next(ctx context.Context) (*Batch, error)
	}
)

func NewBatch(s *schema.Schema, rows []map[string]any) *Batch {
	return &Batch{Schema: s, Rows: rows}
}

func (b *Batch) NumRows() int {
	return len(b.Rows)
}

// Project returns a batch containing only target's fields. Columns missing
// from a row come through as nil, which is only legal if the target field is
// nullable; the planner guarantees that via nullability widening.
func (b *Batch) Project(target *schema.Schema) *Batch {
	rows := make([]map[string]any, len(b.Rows))
	for i, row := range b.Rows {
		out := make(map[string]any, target.NumFields())
		for _, f := range target.Fields {
			out[f.Name] = row[f.Name]
		}
		rows[i] = out
	}
	return NewBatch(target, rows)
}

// Filter returns a batch with only the rows pred keeps.
func (b *Batch) Filter(pred func(row map[string]any) bool) *Batch {
	rows := make([]map[string]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		if pred(row) {
			rows = append(rows, row)
		}
	}
	return NewBatch(b.Schema, rows)
}

type sliceStream struct {
	schema  *schema.Schema
	batches []*Batch
	pos     int
}

// NewSliceStream wraps pre-materialized batches as a Stream.
func NewSliceStream(s *schema.Schema, batches []*Batch) Stream {
	return &sliceStream{schema: s, batches: batches}
}

func (ss *sliceStream) StreamSchema() *schema.Schema {
	return ss.schema
}

func (ss *sliceStream) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ss.pos >= len(ss.batches) {
		return nil, nil
	}
	b := ss.batches[ss.pos]
	ss.pos++
	return b, nil
}

type funcStream struct {
	schema *schema.Schema
	next   func(ctx context.Context) (*Batch, error)
}

// NewFuncStream adapts a pull function into a Stream.
func NewFuncStream(s *schema.Schema, next func(ctx context.Context) (*Batch, error)) Stream {
	return &funcStream{schema: s, next: next}
}

func (fs *funcStream) StreamSchema() *schema.Schema {
	return fs.schema
}

func (fs *funcStream) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.next(ctx)
}

// Drain pulls a stream to exhaustion and returns all rows.
func Drain(ctx context.Context, s Stream) ([]map[string]any, error) {
	var rows []map[string]any
	for {
		b, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return rows, nil
		}
		rows = append(rows, b.Rows...)
	}
}
