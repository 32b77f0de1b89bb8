package merge_reader

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

const DefaultBatchSize = 1024

type (
	// Input is one fragment's row stream plus its recency. All inputs of one
	// merge reader must resolve to the same partition-column values.
	Input struct {
		Stream rowbatch.Stream
		// WriteOrder breaks primary-key ties: highest wins
		WriteOrder int64
	}

	// MergeReader presents a partition group's overlapping fragments as one
	// deduplicated row stream: at most one row per primary-key value, the
	// most recently written fragment's row winning. Tables without primary
	// keys pass through as a plain concatenation. Either way every output row
	// is annotated with the group's fixed partition-column values.
	MergeReader struct {
		mergedSchema    *schema.Schema
		inputs          []Input
		primaryKeys     []string
		partitionValues []partition.ColumnValue
		batchSize       int

		merged []map[string]any
		pos    int
		primed bool
	}

	keyedInput struct {
		rows       []map[string]any
		keys       []string
		writeOrder int64
	}
)

func NewMergeReader(mergedSchema *schema.Schema, inputs []Input, primaryKeys []string, partitionValues []partition.ColumnValue, batchSize int) *MergeReader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &MergeReader{
		mergedSchema:    mergedSchema,
		inputs:          inputs,
		primaryKeys:     primaryKeys,
		partitionValues: partitionValues,
		batchSize:       batchSize,
	}
}

func (mr *MergeReader) StreamSchema() *schema.Schema {
	return mr.mergedSchema
}

func (mr *MergeReader) Next(ctx context.Context) (*rowbatch.Batch, error) {
	if !mr.primed {
		if err := mr.prime(ctx); err != nil {
			return nil, err
		}
		mr.primed = true
	}
	if mr.pos >= len(mr.merged) {
		return nil, nil
	}
	end := mr.pos + mr.batchSize
	if end > len(mr.merged) {
		end = len(mr.merged)
	}
	b := rowbatch.NewBatch(mr.mergedSchema, mr.merged[mr.pos:end])
	mr.pos = end
	return b, nil
}

func (mr *MergeReader) prime(ctx context.Context) error {
	// recency order so the no-PK passthrough is deterministic too
	inputs := append([]Input{}, mr.inputs...)
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].WriteOrder < inputs[j].WriteOrder })

	drained := make([]keyedInput, len(inputs))
	for i, in := range inputs {
		rows, err := rowbatch.Drain(ctx, in.Stream)
		if err != nil {
			return fmt.Errorf("error draining merge input: %w", err)
		}
		for _, row := range rows {
			mr.annotate(row)
		}
		drained[i] = keyedInput{rows: rows, writeOrder: in.WriteOrder}
	}

	if len(mr.primaryKeys) == 0 {
		for _, in := range drained {
			mr.merged = append(mr.merged, in.rows...)
		}
		return nil
	}

	for i := range drained {
		drained[i].sortAndDedup(mr.primaryKeys)
	}
	mr.merged = heapMerge(drained)
	return nil
}

// sortAndDedup key-sorts one fragment's rows (fragments are not written
// key-sorted) and collapses same-key runs, keeping the last occurrence: later
// rows within one file supersede earlier ones.
func (in *keyedInput) sortAndDedup(primaryKeys []string) {
	in.keys = make([]string, len(in.rows))
	for i, row := range in.rows {
		in.keys[i] = rowKey(row, primaryKeys)
	}
	sort.Stable(in)

	outRows := in.rows[:0]
	outKeys := in.keys[:0]
	for i := range in.rows {
		if i+1 < len(in.rows) && in.keys[i] == in.keys[i+1] {
			continue
		}
		outRows = append(outRows, in.rows[i])
		outKeys = append(outKeys, in.keys[i])
	}
	in.rows = outRows
	in.keys = outKeys
}

// heapMerge k-way merges key-sorted, per-input-unique inputs, keeping exactly
// one row per key: the one from the input with the highest WriteOrder.
func heapMerge(inputs []keyedInput) []map[string]any {
	h := &mergeHeap{}
	cursors := make([]int, len(inputs))
	for i := range inputs {
		if len(inputs[i].rows) > 0 {
			h.entries = append(h.entries, mergeEntry{
				key:        inputs[i].keys[0],
				writeOrder: inputs[i].writeOrder,
				input:      i,
			})
		}
	}
	heap.Init(h)

	var merged []map[string]any
	push := func(i int) {
		cursors[i]++
		if cursors[i] < len(inputs[i].rows) {
			heap.Push(h, mergeEntry{
				key:        inputs[i].keys[cursors[i]],
				writeOrder: inputs[i].writeOrder,
				input:      i,
			})
		}
	}

	for h.Len() > 0 {
		// equal keys order by descending WriteOrder, so the first pop of a
		// key run is the winner, the rest are shadowed duplicates
		top := heap.Pop(h).(mergeEntry)
		merged = append(merged, inputs[top.input].rows[cursors[top.input]])
		push(top.input)

		for h.Len() > 0 && h.entries[0].key == top.key {
			dup := heap.Pop(h).(mergeEntry)
			push(dup.input)
		}
	}
	return merged
}

func (mr *MergeReader) annotate(row map[string]any) {
	for _, cv := range mr.partitionValues {
		row[cv.Column] = cv.Value
	}
}

// rowKey builds a total-order comparable composite key over the primary-key
// columns. Two rows with equal primary-key values always produce equal keys.
func rowKey(row map[string]any, primaryKeys []string) string {
	key := ""
	for _, pk := range primaryKeys {
		key += fmt.Sprintf("%v\x1f", row[pk])
	}
	return key
}

func (in *keyedInput) Len() int           { return len(in.rows) }
func (in *keyedInput) Less(i, j int) bool { return in.keys[i] < in.keys[j] }
func (in *keyedInput) Swap(i, j int) {
	in.rows[i], in.rows[j] = in.rows[j], in.rows[i]
	in.keys[i], in.keys[j] = in.keys[j], in.keys[i]
}

type mergeEntry struct {
	key        string
	writeOrder int64
	input      int
}

type mergeHeap struct {
	entries []mergeEntry
}

func (h *mergeHeap) Len() int { return len(h.entries) }
func (h *mergeHeap) Less(i, j int) bool {
	if h.entries[i].key != h.entries[j].key {
		return h.entries[i].key < h.entries[j].key
	}
	return h.entries[i].writeOrder > h.entries[j].writeOrder
}
func (h *mergeHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *mergeHeap) Push(x any)    { h.entries = append(h.entries, x.(mergeEntry)) }
func (h *mergeHeap) Pop() any {
	e := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	return e
}
