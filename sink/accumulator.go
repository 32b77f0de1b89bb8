package sink

import (
	"sort"
	"sync"

	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/partition"
)

type (
	// writeAccumulator is the only state shared by concurrent writer tasks:
	// per-descriptor file lists and row counts. Lives for one write
	// invocation, drained into commit records, then dropped. The critical
	// section is just the map update; callers close writers before merging.
	writeAccumulator struct {
		mu    sync.Mutex
		parts map[string]*partAccumulation
	}

	partAccumulation struct {
		values   []partition.ColumnValue
		files    []metastore.DataFile
		rowCount int64
	}

	partitionCommit struct {
		descriptor string
		values     []partition.ColumnValue
		files      []metastore.DataFile
		rowCount   int64
	}
)

func newWriteAccumulator() *writeAccumulator {
	return &writeAccumulator{
		parts: make(map[string]*partAccumulation),
	}
}

// merge records one closed file under its descriptor: append the path, add
// the row count. Called exactly once per (task, descriptor).
func (wa *writeAccumulator) merge(descriptor string, values []partition.ColumnValue, file metastore.DataFile) {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	pa, exists := wa.parts[descriptor]
	if !exists {
		pa = &partAccumulation{values: values}
		wa.parts[descriptor] = pa
	}
	pa.files = append(pa.files, file)
	pa.rowCount += file.RowCount
}

// drain snapshots the accumulated state in deterministic descriptor order.
func (wa *writeAccumulator) drain() []partitionCommit {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	out := make([]partitionCommit, 0, len(wa.parts))
	for desc, pa := range wa.parts {
		out = append(out, partitionCommit{
			descriptor: desc,
			values:     pa.values,
			files:      pa.files,
			rowCount:   pa.rowCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].descriptor < out[j].descriptor })
	return out
}
