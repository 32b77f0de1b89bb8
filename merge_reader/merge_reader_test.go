package merge_reader

import (
	"context"
	"testing"

	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

func testSchema() *schema.Schema {
	return schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "val", Type: schema.String, Nullable: true},
	)
}

func streamOf(s *schema.Schema, rows ...map[string]any) rowbatch.Stream {
	return rowbatch.NewSliceStream(s, []*rowbatch.Batch{rowbatch.NewBatch(s, rows)})
}

func TestLatestWins(t *testing.T) {
	s := testSchema()
	inputs := []Input{
		{
			WriteOrder: 1,
			Stream: streamOf(s,
				map[string]any{"id": int64(1), "val": "old"},
				map[string]any{"id": int64(2), "val": "only"},
			),
		},
		{
			WriteOrder: 2,
			Stream: streamOf(s,
				map[string]any{"id": int64(1), "val": "new"},
			),
		},
	}

	mr := NewMergeReader(s, inputs, []string{"id"}, nil, 0)
	rows, err := rowbatch.Drain(context.Background(), mr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	byID := make(map[int64]string)
	for _, row := range rows {
		byID[row["id"].(int64)] = row["val"].(string)
	}
	if byID[1] != "new" {
		t.Fatalf("id 1 should resolve to the most recent write, got %s", byID[1])
	}
	if byID[2] != "only" {
		t.Fatalf("id 2 mismatch: %s", byID[2])
	}
}

func TestLatestWinsWithinFragment(t *testing.T) {
	s := testSchema()
	inputs := []Input{
		{
			WriteOrder: 1,
			Stream: streamOf(s,
				map[string]any{"id": int64(1), "val": "first"},
				map[string]any{"id": int64(1), "val": "second"},
			),
		},
	}

	mr := NewMergeReader(s, inputs, []string{"id"}, nil, 0)
	rows, err := rowbatch.Drain(context.Background(), mr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["val"] != "second" {
		t.Fatalf("later row within one fragment should win, got %s", rows[0]["val"])
	}
}

func TestNoPrimaryKeysConcatenates(t *testing.T) {
	s := testSchema()
	inputs := []Input{
		{WriteOrder: 2, Stream: streamOf(s, map[string]any{"id": int64(1), "val": "b"})},
		{WriteOrder: 1, Stream: streamOf(s, map[string]any{"id": int64(1), "val": "a"})},
	}

	mr := NewMergeReader(s, inputs, nil, nil, 0)
	rows, err := rowbatch.Drain(context.Background(), mr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("without primary keys nothing dedups, expected 2 rows got %d", len(rows))
	}
	// concatenation in write order
	if rows[0]["val"] != "a" || rows[1]["val"] != "b" {
		t.Fatalf("expected write-order concatenation, got %+v", rows)
	}
}

func TestAnnotatesPartitionValues(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "region", Type: schema.String},
	)
	fileSchema := schema.New(schema.Field{Name: "id", Type: schema.Int64})
	inputs := []Input{
		{WriteOrder: 1, Stream: streamOf(fileSchema, map[string]any{"id": int64(1)})},
	}

	mr := NewMergeReader(s, inputs, []string{"id"}, []partition.ColumnValue{{Column: "region", Value: "us"}}, 0)
	rows, err := rowbatch.Drain(context.Background(), mr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["region"] != "us" {
		t.Fatalf("partition value not annotated: %+v", rows[0])
	}
}

func TestCompositePrimaryKey(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "a", Type: schema.String},
		schema.Field{Name: "b", Type: schema.Int64},
		schema.Field{Name: "val", Type: schema.String, Nullable: true},
	)
	inputs := []Input{
		{
			WriteOrder: 1,
			Stream: streamOf(s,
				map[string]any{"a": "x", "b": int64(1), "val": "keep"},
				map[string]any{"a": "x", "b": int64(2), "val": "old"},
			),
		},
		{
			WriteOrder: 2,
			Stream: streamOf(s,
				map[string]any{"a": "x", "b": int64(2), "val": "new"},
			),
		},
	}

	mr := NewMergeReader(s, inputs, []string{"a", "b"}, nil, 0)
	rows, err := rowbatch.Drain(context.Background(), mr)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row["b"] == int64(2) && row["val"] != "new" {
			t.Fatalf("composite key (x,2) should resolve to the newer row, got %+v", row)
		}
	}
}

func TestBatchSizeHonored(t *testing.T) {
	s := testSchema()
	var rows []map[string]any
	for i := 0; i < 10; i++ {
		rows = append(rows, map[string]any{"id": int64(i), "val": "v"})
	}
	inputs := []Input{{WriteOrder: 1, Stream: streamOf(s, rows...)}}

	mr := NewMergeReader(s, inputs, []string{"id"}, nil, 3)
	ctx := context.Background()
	var total, batches int
	for {
		b, err := mr.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if b == nil {
			break
		}
		if b.NumRows() > 3 {
			t.Fatalf("batch exceeded requested size: %d", b.NumRows())
		}
		total += b.NumRows()
		batches++
	}
	if total != 10 {
		t.Fatalf("expected 10 rows total, got %d", total)
	}
	if batches != 4 {
		t.Fatalf("expected 4 batches, got %d", batches)
	}
}
