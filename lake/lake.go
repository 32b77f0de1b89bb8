package lake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/gologger"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/plan"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/sink"
)

var (
	logger = gologger.NewLogger()

	ErrInvalidTableSpec = errors.New("invalid table spec")
	ErrWriteFailed      = errors.New("write failed")
)

type (
	// Lake ties the metadata catalog and the file store together into the
	// table read/write engine.
	Lake struct {
		MetaStore metastore.MetaStore
		DataStore datastore.DataStore
	}

	ScanOptions struct {
		// Columns to return; empty means every table column
		Columns []string
		// Partitions prunes the fragment listing to these partition
		// descriptors; nil scans all partitions
		Partitions []string
		// Predicate filters result rows
		Predicate func(row map[string]any) bool
		BatchSize int
	}
)

func New(ms metastore.MetaStore, ds datastore.DataStore) (*Lake, error) {
	return &Lake{
		MetaStore: ms,
		DataStore: ds,
	}, nil
}

// CreateTable validates and registers a new table. The schema is the file
// schema: primary key and CDC columns must be in it, range partition columns
// must not (partition values live in the storage path, not the file body).
func (l *Lake) CreateTable(ctx context.Context, info metastore.TableInfo) error {
	if info.Namespace == "" || info.Name == "" || info.TablePath == "" {
		return fmt.Errorf("namespace, name, and table path are required: %w", ErrInvalidTableSpec)
	}
	if info.Schema == nil || info.Schema.NumFields() == 0 {
		return fmt.Errorf("schema is required: %w", ErrInvalidTableSpec)
	}
	// the parquet layer maps column names through an upper-cased first letter,
	// so empty names and first-letter case twins cannot be stored
	seen := make(map[string]string, info.Schema.NumFields())
	for _, f := range info.Schema.Fields {
		if f.Name == "" {
			return fmt.Errorf("column names cannot be empty: %w", ErrInvalidTableSpec)
		}
		key := strings.ToUpper(f.Name[:1]) + f.Name[1:]
		if prev, exists := seen[key]; exists {
			return fmt.Errorf("columns %s and %s differ only in first-letter case: %w", prev, f.Name, ErrInvalidTableSpec)
		}
		seen[key] = f.Name
	}
	for _, pk := range info.PrimaryKeys {
		f, ok := info.Schema.Field(pk)
		if !ok {
			return fmt.Errorf("primary key column %s not in schema: %w", pk, ErrInvalidTableSpec)
		}
		if f.Nullable {
			return fmt.Errorf("primary key column %s cannot be nullable: %w", pk, ErrInvalidTableSpec)
		}
	}
	if info.CDCColumn != "" && !info.Schema.HasField(info.CDCColumn) {
		return fmt.Errorf("cdc column %s not in schema: %w", info.CDCColumn, ErrInvalidTableSpec)
	}
	for _, col := range info.RangePartitions {
		if info.Schema.HasField(col) {
			return fmt.Errorf("partition column %s must not be in the file schema: %w", col, ErrInvalidTableSpec)
		}
	}

	if err := l.MetaStore.CreateTable(ctx, info); err != nil {
		return fmt.Errorf("error in MetaStore.CreateTable: %w", err)
	}
	logger.Debug().Str("table", info.FullName()).Msg("created table")
	return nil
}

func (l *Lake) TableInfo(ctx context.Context, namespace, name string) (metastore.TableInfo, error) {
	return l.MetaStore.GetTableInfo(ctx, namespace, name)
}

func (l *Lake) ListTables(ctx context.Context, namespace string) ([]metastore.TableInfo, error) {
	return l.MetaStore.ListTables(ctx, namespace)
}

// Scan plans and executes a merged, deduplicated, CDC-filtered read over the
// table's current fragments.
func (l *Lake) Scan(ctx context.Context, namespace, name string, opts ScanOptions) (rowbatch.Stream, error) {
	info, err := l.MetaStore.GetTableInfo(ctx, namespace, name)
	if err != nil {
		return nil, fmt.Errorf("error in GetTableInfo: %w", err)
	}

	var fragments []fragment.FileFragment
	if opts.Partitions != nil {
		fragments, err = l.MetaStore.ListFragmentsInPartitions(ctx, namespace, name, opts.Partitions)
	} else {
		fragments, err = l.MetaStore.ListFragments(ctx, namespace, name)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing fragments: %w", err)
	}

	node, err := plan.BuildScan(plan.ScanConfig{
		Table:            info,
		Fragments:        fragments,
		RequestedColumns: opts.Columns,
		Predicate:        opts.Predicate,
		Store:            l.DataStore,
		BatchSize:        opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("error building scan plan: %w", err)
	}
	return node.Execute(ctx)
}

// Write runs an upstream source through the hash sink and interprets the
// sink's sentinel row. Returns the total written row count.
func (l *Lake) Write(ctx context.Context, namespace, name string, source sink.Source, mode sink.WriteMode) (uint64, error) {
	info, err := l.MetaStore.GetTableInfo(ctx, namespace, name)
	if err != nil {
		return 0, fmt.Errorf("error in GetTableInfo: %w", err)
	}

	exec, err := sink.NewHashSinkExec(source, mode, info, l.MetaStore, l.DataStore)
	if err != nil {
		return 0, err
	}

	stream, err := exec.Execute(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := rowbatch.Drain(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("error draining sink output: %w", err)
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("sink produced %d result rows: %w", len(rows), ErrWriteFailed)
	}
	count := rows[0]["count"].(uint64)
	msg, _ := rows[0]["msg"].(string)
	if count == sink.FailureSentinel {
		return 0, fmt.Errorf("%s: %w", msg, ErrWriteFailed)
	}
	return count, nil
}
