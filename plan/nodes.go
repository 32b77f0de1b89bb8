package plan

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/merge_reader"
	"github.com/danthegoodman1/icelake/parquet_codec"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

// CDCDeleteMarker is the change-kind value that tombstones a row
const CDCDeleteMarker = "delete"

type (
	// Node is one executable plan node. The node set is closed: scans, the
	// per-partition merge, union, the CDC tombstone filter, a row filter, and
	// the trailing projection, composed by explicit tree construction in
	// BuildScan.
	Node interface {
		NodeSchema() *schema.Schema
		Execute(ctx context.Context) (rowbatch.Stream, error)
	}

	// FragmentScan reads one file fragment, restricted to scanSchema, and
	// optionally filtered by a predicate (work-skipping only: the planner
	// never relies on it for correctness).
	FragmentScan struct {
		Fragment   fragment.FileFragment
		Store      datastore.DataStore
		scanSchema *schema.Schema
		predicate  func(row map[string]any) bool
		batchSize  int
	}

	// MergeScan merges one partition group's fragments into a single
	// deduplicated stream annotated with the group's partition values.
	MergeScan struct {
		children        []*FragmentScan
		groupSchema     *schema.Schema
		primaryKeys     []string
		partitionValues []partition.ColumnValue
		batchSize       int
	}

	// Union concatenates its inputs with no cross-input ordering guarantee.
	// Its schema is the nullability union across all inputs: sibling groups
	// may have widened different fields.
	Union struct {
		inputs []Node
		schema *schema.Schema
	}

	// CDCFilter drops tombstoned rows: rows whose CDC column equals the
	// delete marker never reach the caller.
	CDCFilter struct {
		input     Node
		cdcColumn string
	}

	// Filter applies a caller-supplied row predicate above the merge.
	Filter struct {
		input Node
		pred  func(row map[string]any) bool
	}

	// Projection reduces the merged schema to exactly the requested schema
	// and ordering.
	Projection struct {
		input  Node
		target *schema.Schema
	}

	// EmptyScan produces no rows, for tables with no fragments yet.
	EmptyScan struct {
		schema *schema.Schema
	}
)

func (fs *FragmentScan) NodeSchema() *schema.Schema {
	return fs.scanSchema
}

func (fs *FragmentScan) Execute(ctx context.Context) (rowbatch.Stream, error) {
	data, err := fs.Store.ReadFile(ctx, fs.Fragment.Path)
	if err != nil {
		return nil, fmt.Errorf("error reading fragment %s: %w", fs.Fragment.Path, err)
	}
	rows, err := parquet_codec.ReadRows(data, fs.Fragment.Schema)
	if err != nil {
		return nil, fmt.Errorf("error decoding fragment %s: %w", fs.Fragment.Path, err)
	}

	projected := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, fs.scanSchema.NumFields())
		for _, f := range fs.scanSchema.Fields {
			out[f.Name] = row[f.Name]
		}
		if fs.predicate != nil && !fs.predicate(out) {
			continue
		}
		projected = append(projected, out)
	}

	var batches []*rowbatch.Batch
	for start := 0; start < len(projected); start += fs.batchSize {
		end := start + fs.batchSize
		if end > len(projected) {
			end = len(projected)
		}
		batches = append(batches, rowbatch.NewBatch(fs.scanSchema, projected[start:end]))
	}
	return rowbatch.NewSliceStream(fs.scanSchema, batches), nil
}

func (ms *MergeScan) NodeSchema() *schema.Schema {
	return ms.groupSchema
}

func (ms *MergeScan) Execute(ctx context.Context) (rowbatch.Stream, error) {
	inputs := make([]merge_reader.Input, 0, len(ms.children))
	for _, child := range ms.children {
		stream, err := child.Execute(ctx)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, merge_reader.Input{
			Stream:     stream,
			WriteOrder: child.Fragment.WriteOrder,
		})
	}
	return merge_reader.NewMergeReader(ms.groupSchema, inputs, ms.primaryKeys, ms.partitionValues, ms.batchSize), nil
}

func (u *Union) NodeSchema() *schema.Schema {
	return u.schema
}

func (u *Union) Execute(ctx context.Context) (rowbatch.Stream, error) {
	streams := make([]rowbatch.Stream, 0, len(u.inputs))
	for _, in := range u.inputs {
		s, err := in.Execute(ctx)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	pos := 0
	return rowbatch.NewFuncStream(u.NodeSchema(), func(ctx context.Context) (*rowbatch.Batch, error) {
		for pos < len(streams) {
			b, err := streams[pos].Next(ctx)
			if err != nil {
				return nil, err
			}
			if b != nil {
				return b, nil
			}
			pos++
		}
		return nil, nil
	}), nil
}

func (cf *CDCFilter) NodeSchema() *schema.Schema {
	return cf.input.NodeSchema()
}

func (cf *CDCFilter) Execute(ctx context.Context) (rowbatch.Stream, error) {
	in, err := cf.input.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return rowbatch.NewFuncStream(cf.NodeSchema(), func(ctx context.Context) (*rowbatch.Batch, error) {
		b, err := in.Next(ctx)
		if err != nil || b == nil {
			return nil, err
		}
		return b.Filter(func(row map[string]any) bool {
			return row[cf.cdcColumn] != CDCDeleteMarker
		}), nil
	}), nil
}

func (f *Filter) NodeSchema() *schema.Schema {
	return f.input.NodeSchema()
}

func (f *Filter) Execute(ctx context.Context) (rowbatch.Stream, error) {
	in, err := f.input.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return rowbatch.NewFuncStream(f.NodeSchema(), func(ctx context.Context) (*rowbatch.Batch, error) {
		b, err := in.Next(ctx)
		if err != nil || b == nil {
			return nil, err
		}
		return b.Filter(f.pred), nil
	}), nil
}

func (p *Projection) NodeSchema() *schema.Schema {
	return p.target
}

func (p *Projection) Execute(ctx context.Context) (rowbatch.Stream, error) {
	in, err := p.input.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return rowbatch.NewFuncStream(p.target, func(ctx context.Context) (*rowbatch.Batch, error) {
		b, err := in.Next(ctx)
		if err != nil || b == nil {
			return nil, err
		}
		return b.Project(p.target), nil
	}), nil
}

func (es *EmptyScan) NodeSchema() *schema.Schema {
	return es.schema
}

func (es *EmptyScan) Execute(_ context.Context) (rowbatch.Stream, error) {
	return rowbatch.NewSliceStream(es.schema, nil), nil
}
