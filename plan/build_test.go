package plan

import (
	"context"
	"fmt"
	"testing"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/parquet_codec"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

// writeFragment encodes rows and registers them with the store, returning the
// fragment descriptor the metastore would hand the planner.
func writeFragment(t *testing.T, store datastore.DataStore, path string, s *schema.Schema, writeOrder int64, values []partition.ColumnValue, rows []map[string]any) fragment.FileFragment {
	t.Helper()
	buf, err := parquet_codec.WriteRows(s, rows)
	if err != nil {
		t.Fatal(err)
	}
	size, err := store.WriteFile(context.Background(), path, buf)
	if err != nil {
		t.Fatal(err)
	}
	return fragment.FileFragment{
		Path:            path,
		SizeBytes:       size,
		RowCount:        int64(len(rows)),
		WriteOrder:      writeOrder,
		Schema:          s,
		PartitionValues: values,
	}
}

func newDiskStore(t *testing.T) datastore.DataStore {
	t.Helper()
	store, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestScanDedupAndCDC(t *testing.T) {
	store := newDiskStore(t)
	fileSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
		schema.Field{Name: "op", Type: schema.String},
	)
	table := metastore.TableInfo{
		Namespace:   "ns",
		Name:        "users",
		TablePath:   "warehouse/ns/users/",
		PrimaryKeys: []string{"id"},
		CDCColumn:   "op",
		Schema:      fileSchema,
	}

	frag1 := writeFragment(t, store, "warehouse/ns/users/f1.parquet", fileSchema, 1, nil, []map[string]any{
		{"id": int64(1), "name": "alice", "op": "insert"},
		{"id": int64(2), "name": "bob", "op": "insert"},
		{"id": int64(3), "name": "carol", "op": "insert"},
	})
	frag2 := writeFragment(t, store, "warehouse/ns/users/f2.parquet", fileSchema, 2, nil, []map[string]any{
		{"id": int64(1), "name": "alice2", "op": "update"},
		{"id": int64(3), "name": nil, "op": "delete"},
	})

	node, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag1, frag2},
		Store:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}

	// id 1 dedups to the newer version, id 3's tombstone suppresses it
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	byID := make(map[int64]map[string]any)
	for _, row := range rows {
		byID[row["id"].(int64)] = row
	}
	if byID[1] == nil || byID[1]["name"] != "alice2" {
		t.Fatalf("id 1 should be the updated row: %+v", byID[1])
	}
	if byID[2] == nil || byID[2]["name"] != "bob" {
		t.Fatalf("id 2 missing or wrong: %+v", byID[2])
	}
	if _, exists := byID[3]; exists {
		t.Fatal("tombstoned id 3 leaked through the CDC filter")
	}
}

func TestScanTrailingProjection(t *testing.T) {
	store := newDiskStore(t)
	fileSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
		schema.Field{Name: "op", Type: schema.String},
	)
	table := metastore.TableInfo{
		Namespace:   "ns",
		Name:        "users",
		TablePath:   "warehouse/ns/users/",
		PrimaryKeys: []string{"id"},
		CDCColumn:   "op",
		Schema:      fileSchema,
	}

	frag := writeFragment(t, store, "warehouse/ns/users/f1.parquet", fileSchema, 1, nil, []map[string]any{
		{"id": int64(1), "name": "alice", "op": "insert"},
	})

	node, err := BuildScan(ScanConfig{
		Table:            table,
		Fragments:        []fragment.FileFragment{frag},
		RequestedColumns: []string{"name"},
		Store:            store,
	})
	if err != nil {
		t.Fatal(err)
	}
	if node.NodeSchema().NumFields() != 1 || node.NodeSchema().Fields[0].Name != "name" {
		t.Fatalf("plan should project down to the request, got %+v", node.NodeSchema().FieldNames())
	}

	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["name"] != "alice" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	// the merge columns must not leak into the result
	if _, exists := rows[0]["id"]; exists {
		t.Fatalf("primary key leaked past the trailing projection: %+v", rows[0])
	}
	if _, exists := rows[0]["op"]; exists {
		t.Fatalf("cdc column leaked past the trailing projection: %+v", rows[0])
	}
}

func TestScanPartitionGroupsIndependent(t *testing.T) {
	store := newDiskStore(t)
	fileSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
	)
	table := metastore.TableInfo{
		Namespace:       "ns",
		Name:            "users",
		TablePath:       "warehouse/ns/users/",
		RangePartitions: []string{"region"},
		PrimaryKeys:     []string{"id"},
		Schema:          fileSchema,
	}

	us := []partition.ColumnValue{{Column: "region", Value: "us"}}
	eu := []partition.ColumnValue{{Column: "region", Value: "eu"}}

	// same primary key in both partitions: groups merge independently, so both
	// rows survive
	frag1 := writeFragment(t, store, "warehouse/ns/users/region=us/f1.parquet", fileSchema, 1, us, []map[string]any{
		{"id": int64(1), "name": "us-row"},
	})
	frag2 := writeFragment(t, store, "warehouse/ns/users/region=eu/f2.parquet", fileSchema, 2, eu, []map[string]any{
		{"id": int64(1), "name": "eu-row"},
	})

	node, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag1, frag2},
		Store:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (one per partition group), got %d: %+v", len(rows), rows)
	}
	byRegion := make(map[string]string)
	for _, row := range rows {
		byRegion[row["region"].(string)] = row["name"].(string)
	}
	if byRegion["us"] != "us-row" || byRegion["eu"] != "eu-row" {
		t.Fatalf("partition annotation wrong: %+v", byRegion)
	}
}

func TestScanWidensMissingColumns(t *testing.T) {
	store := newDiskStore(t)
	oldSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
	)
	newSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String},
	)
	table := metastore.TableInfo{
		Namespace:   "ns",
		Name:        "users",
		TablePath:   "warehouse/ns/users/",
		PrimaryKeys: []string{"id"},
		Schema:      newSchema,
	}

	frag1 := writeFragment(t, store, "warehouse/ns/users/f1.parquet", oldSchema, 1, nil, []map[string]any{
		{"id": int64(1)},
	})
	frag2 := writeFragment(t, store, "warehouse/ns/users/f2.parquet", newSchema, 2, nil, []map[string]any{
		{"id": int64(2), "name": "bob"},
	})

	node, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag1, frag2},
		Store:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	// a fragment lacking the column forces it nullable in the merged schema
	name, ok := node.NodeSchema().Field("name")
	if !ok {
		t.Fatal("name missing from plan schema")
	}
	if !name.Nullable {
		t.Fatal("name should have widened to nullable")
	}

	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row["id"] == int64(1) && row["name"] != nil {
			t.Fatalf("row from old fragment should surface nil name: %+v", row)
		}
	}
}

func TestUnionSchemaWidensAcrossGroups(t *testing.T) {
	store := newDiskStore(t)
	oldSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
	)
	newSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String},
	)
	table := metastore.TableInfo{
		Namespace:       "ns",
		Name:            "users",
		TablePath:       "warehouse/ns/users/",
		RangePartitions: []string{"region"},
		PrimaryKeys:     []string{"id"},
		Schema:          newSchema,
	}

	us := []partition.ColumnValue{{Column: "region", Value: "us"}}
	eu := []partition.ColumnValue{{Column: "region", Value: "eu"}}

	// only the us group's fragment lacks the column; the union's declared
	// schema must still carry the widened nullability
	frag1 := writeFragment(t, store, "warehouse/ns/users/region=us/f1.parquet", oldSchema, 1, us, []map[string]any{
		{"id": int64(1)},
	})
	frag2 := writeFragment(t, store, "warehouse/ns/users/region=eu/f2.parquet", newSchema, 2, eu, []map[string]any{
		{"id": int64(2), "name": "bob"},
	})

	node, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag1, frag2},
		Store:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	name, ok := node.NodeSchema().Field("name")
	if !ok {
		t.Fatal("name missing from plan schema")
	}
	if !name.Nullable {
		t.Fatal("union schema must widen name to nullable for the group missing it")
	}

	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row["region"] == "us" && row["name"] != nil {
			t.Fatalf("row from the schemaless group should surface nil name: %+v", row)
		}
	}
}

func TestScanSchemaMismatchAborts(t *testing.T) {
	store := newDiskStore(t)
	table := metastore.TableInfo{
		Namespace: "ns",
		Name:      "users",
		TablePath: "warehouse/ns/users/",
		Schema:    schema.New(schema.Field{Name: "id", Type: schema.Int64}),
	}
	frag := fragment.FileFragment{
		Path:       "warehouse/ns/users/bad.parquet",
		WriteOrder: 1,
		Schema:     schema.New(schema.Field{Name: "id", Type: schema.String}),
	}

	_, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag},
		Store:     store,
	})
	if err == nil {
		t.Fatal("expected schema mismatch to abort planning")
	}
}

func TestScanEmptyTable(t *testing.T) {
	store := newDiskStore(t)
	table := metastore.TableInfo{
		Namespace: "ns",
		Name:      "users",
		TablePath: "warehouse/ns/users/",
		Schema:    schema.New(schema.Field{Name: "id", Type: schema.Int64}),
	}

	node, err := BuildScan(ScanConfig{Table: table, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestScanPredicateAboveMerge(t *testing.T) {
	store := newDiskStore(t)
	fileSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
	)
	table := metastore.TableInfo{
		Namespace:   "ns",
		Name:        "users",
		TablePath:   "warehouse/ns/users/",
		PrimaryKeys: []string{"id"},
		Schema:      fileSchema,
	}

	// the old version matches the predicate, the new one does not: the row
	// must not come back, the predicate sees only post-merge winners
	frag1 := writeFragment(t, store, "warehouse/ns/users/f1.parquet", fileSchema, 1, nil, []map[string]any{
		{"id": int64(1), "name": "match"},
	})
	frag2 := writeFragment(t, store, "warehouse/ns/users/f2.parquet", fileSchema, 2, nil, []map[string]any{
		{"id": int64(1), "name": "nomatch"},
	})

	node, err := BuildScan(ScanConfig{
		Table:     table,
		Fragments: []fragment.FileFragment{frag1, frag2},
		Predicate: func(row map[string]any) bool { return row["name"] == "match" },
		Store:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("predicate must apply to the merged winner only, got %+v", rows)
	}
}

func TestScanManyFragments(t *testing.T) {
	store := newDiskStore(t)
	fileSchema := schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "v", Type: schema.Int64},
	)
	table := metastore.TableInfo{
		Namespace:   "ns",
		Name:        "counters",
		TablePath:   "warehouse/ns/counters/",
		PrimaryKeys: []string{"id"},
		Schema:      fileSchema,
	}

	// every fragment rewrites the same key: only the last commit survives
	var frags []fragment.FileFragment
	for i := 1; i <= 5; i++ {
		frags = append(frags, writeFragment(t, store, fmt.Sprintf("warehouse/ns/counters/f%d.parquet", i), fileSchema, int64(i), nil, []map[string]any{
			{"id": int64(7), "v": int64(i)},
		}))
	}

	node, err := BuildScan(ScanConfig{Table: table, Fragments: frags, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := node.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rows, err := rowbatch.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["v"] != int64(5) {
		t.Fatalf("expected highest write order to win, got %+v", rows[0])
	}
}
