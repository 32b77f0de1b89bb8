package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/gologger"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
	"github.com/danthegoodman1/icelake/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	logger = gologger.NewLogger()

	ErrOverwriteNotSupported = errors.New("overwrite writes are not supported")
)

// FailureSentinel is the count value of the sink's result row when the write
// failed. Callers must check it: the sink's output stream itself never fails.
const FailureSentinel = uint64(math.MaxUint64)

type (
	// Source is the upstream the execution framework hands the sink: some
	// number of independent partitions, each producing a row-batch stream.
	// The sink fans out across them itself, so it must not be handed output
	// whose cross-partition ordering it is expected to preserve.
	Source interface {
		PartitionCount() int
		Execute(ctx context.Context, partition int) (rowbatch.Stream, error)
	}

	WriteMode int

	// HashSinkExec writes an upstream's batches into the table's storage
	// layout, dynamically sub-partitioned by row values, then registers the
	// new files with the metastore. Output is a single-row batch
	// {count uint64, msg string}.
	HashSinkExec struct {
		input Source
		table metastore.TableInfo
		meta  metastore.MetaStore
		store datastore.DataStore
	}
)

const (
	WriteModeAppend WriteMode = iota
	WriteModeOverwrite
)

// NewHashSinkExec validates the write up front: overwrite mode is rejected
// here, before any task launches, so a rejected write has zero side effects.
func NewHashSinkExec(input Source, mode WriteMode, table metastore.TableInfo, meta metastore.MetaStore, store datastore.DataStore) (*HashSinkExec, error) {
	if mode == WriteModeOverwrite {
		return nil, ErrOverwriteNotSupported
	}
	return &HashSinkExec{
		input: input,
		table: table,
		meta:  meta,
		store: store,
	}, nil
}

// SinkSchema is the sink's output schema: a row count (FailureSentinel on
// failure) and a message (empty on success, error text on failure).
func SinkSchema() *schema.Schema {
	return schema.New(
		schema.Field{Name: "count", Type: schema.Uint64},
		schema.Field{Name: "msg", Type: schema.String},
	)
}

func (hse *HashSinkExec) NodeSchema() *schema.Schema {
	return SinkSchema()
}

// Execute runs the whole write and returns the sink's single-row output
// stream. Failures surface as the sentinel row, never as a stream error.
func (hse *HashSinkExec) Execute(ctx context.Context) (rowbatch.Stream, error) {
	count, err := hse.run(ctx)
	var result *rowbatch.Batch
	if err != nil {
		zerolog.Ctx(logger.WithContext(ctx)).Error().Err(err).Str("table", hse.table.FullName()).Msg("write failed")
		result = makeSinkBatch(FailureSentinel, err.Error())
	} else {
		result = makeSinkBatch(count, "")
	}
	return rowbatch.NewSliceStream(SinkSchema(), []*rowbatch.Batch{result}), nil
}

func (hse *HashSinkExec) run(ctx context.Context) (uint64, error) {
	writeID := utils.GenWriteID()
	numPartitions := hse.input.PartitionCount()

	acc := newWriteAccumulator()
	counts := make([]int64, numPartitions)

	// one task per upstream partition; the first failure cancels the group
	// context so siblings stop at their next batch pull instead of writing
	// more orphan files
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numPartitions; i++ {
		i := i
		g.Go(func() error {
			n, err := hse.pullAndSink(gctx, i, writeID, acc)
			if err != nil {
				return fmt.Errorf("error in write task for upstream partition %d: %w", i, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := hse.commit(ctx, acc); err != nil {
		return 0, err
	}

	var total uint64
	for _, n := range counts {
		total += uint64(n)
	}
	return total, nil
}

// pullAndSink consumes one upstream partition's batches in arrival order,
// routing each slice of rows to a lazily opened per-partition-descriptor
// writer. Returns the task's total written row count.
func (hse *HashSinkExec) pullAndSink(ctx context.Context, upstreamPartition int, writeID string, acc *writeAccumulator) (int64, error) {
	stream, err := hse.input.Execute(ctx, upstreamPartition)
	if err != nil {
		return 0, fmt.Errorf("error executing upstream partition: %w", err)
	}

	payloadSchema := stripPartitionColumns(stream.StreamSchema(), hse.table.RangePartitions)

	writers := make(map[string]*fragmentWriter)
	var rowCount int64
	for {
		b, err := stream.Next(ctx)
		if err != nil {
			return 0, fmt.Errorf("error pulling upstream batch: %w", err)
		}
		if b == nil {
			break
		}

		groups, err := partition.SplitBatch(b, hse.table.RangePartitions)
		if err != nil {
			return 0, err
		}
		for _, group := range groups {
			w, exists := writers[group.Descriptor]
			if !exists {
				w, err = hse.newFragmentWriter(group, payloadSchema, writeID, upstreamPartition)
				if err != nil {
					return 0, err
				}
				writers[group.Descriptor] = w
			}
			// partition values are reconstructible from the path, drop them
			// from the payload
			w.writeRows(projectRows(group.Rows, payloadSchema))
			rowCount += int64(len(group.Rows))
		}
	}

	// flush and close every writer before touching the shared accumulator,
	// the lock is never held across datastore I/O
	for desc, w := range writers {
		file, err := w.close(ctx, hse.store)
		if err != nil {
			return 0, fmt.Errorf("error closing writer for partition %s: %w", desc, err)
		}
		acc.merge(desc, w.values, file)
	}

	return rowCount, nil
}

// commit registers each partition descriptor's files with the metastore, one
// independent call per descriptor. A descriptor's files are visible as soon
// as its own call returns; a failure stops further commits but never rolls
// back completed ones (documented partial visibility).
func (hse *HashSinkExec) commit(ctx context.Context, acc *writeAccumulator) error {
	for _, pc := range acc.drain() {
		err := hse.meta.CommitData(ctx, metastore.CommitRecord{
			Namespace:           hse.table.Namespace,
			TableName:           hse.table.Name,
			PartitionDescriptor: pc.descriptor,
			Files:               pc.files,
			RowCount:            pc.rowCount,
		})
		if err != nil {
			return fmt.Errorf("error committing partition %s: %w", pc.descriptor, err)
		}
		logger.Debug().Str("table", hse.table.FullName()).Str("partition", pc.descriptor).Int("files", len(pc.files)).Int64("rows", pc.rowCount).Msg("committed partition data")
	}
	return nil
}

func (hse *HashSinkExec) newFragmentWriter(group partition.Group, payloadSchema *schema.Schema, writeID string, upstreamPartition int) (*fragmentWriter, error) {
	subPath, err := partition.SubPath(group.Values)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/%s%s", strings.TrimSuffix(hse.table.TablePath, "/"), subPath, fileName(writeID, upstreamPartition))
	return &fragmentWriter{
		path:   path,
		schema: payloadSchema,
		values: group.Values,
	}, nil
}

// fileName embeds the per-write random identifier and the zero-padded
// upstream-partition index, so concurrent tasks of one invocation can never
// pick colliding names even inside the same partition sub-path.
func fileName(writeID string, upstreamPartition int) string {
	return fmt.Sprintf("part-%s_%04d.parquet", writeID, upstreamPartition)
}

func makeSinkBatch(count uint64, msg string) *rowbatch.Batch {
	return rowbatch.NewBatch(SinkSchema(), []map[string]any{{
		"count": count,
		"msg":   msg,
	}})
}

func stripPartitionColumns(s *schema.Schema, rangeCols []string) *schema.Schema {
	out := schema.New()
	for _, f := range s.Fields {
		if !utils.ContainsString(rangeCols, f.Name) {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

func projectRows(rows []map[string]any, target *schema.Schema) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		r := make(map[string]any, target.NumFields())
		for _, f := range target.Fields {
			r[f.Name] = row[f.Name]
		}
		out[i] = r
	}
	return out
}
