package partition

import (
	"errors"
	"testing"

	"github.com/danthegoodman1/icelake/rowbatch"
	"github.com/danthegoodman1/icelake/schema"
)

func TestEncodeDeterministic(t *testing.T) {
	values := []ColumnValue{
		{Column: "region", Value: "us"},
		{Column: "day", Value: "3"},
	}
	a, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("same values gave different descriptors: %s vs %s", a, b)
	}
	if a != "region=us,day=3" {
		t.Fatalf("unexpected descriptor: %s", a)
	}
}

func TestEncodeEmptyIsDefaultDescriptor(t *testing.T) {
	desc, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if desc != DefaultDescriptor {
		t.Fatalf("expected %s, got %s", DefaultDescriptor, desc)
	}
}

func TestEncodeInjective(t *testing.T) {
	// values containing the separator characters must not collide with values
	// that happen to contain the encoded form
	a, err := Encode([]ColumnValue{{Column: "k", Value: "a,b=c"}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode([]ColumnValue{{Column: "k", Value: "a"}, {Column: "b", Value: "c"}})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("distinct value tuples collided on descriptor %s", a)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	values := []ColumnValue{
		{Column: "region", Value: "us/east,1=x"},
		{Column: "day", Value: "3"},
	}
	desc, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(desc)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(values) {
		t.Fatalf("expected %d values, got %d", len(values), len(decoded))
	}
	for i := range values {
		if decoded[i] != values[i] {
			t.Fatalf("value %d: expected %+v, got %+v", i, values[i], decoded[i])
		}
	}
}

func TestDecodeDefaultDescriptor(t *testing.T) {
	values, err := Decode(DefaultDescriptor)
	if err != nil {
		t.Fatal(err)
	}
	if values != nil {
		t.Fatalf("expected nil values, got %+v", values)
	}
}

func TestSubPath(t *testing.T) {
	sub, err := SubPath([]ColumnValue{
		{Column: "region", Value: "us"},
		{Column: "day", Value: "3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub != "region=us/day=3/" {
		t.Fatalf("unexpected sub path: %s", sub)
	}

	sub, err = SubPath(nil)
	if err != nil {
		t.Fatal(err)
	}
	if sub != "" {
		t.Fatalf("expected empty sub path for unpartitioned, got %s", sub)
	}
}

func TestValuesFromRowStringify(t *testing.T) {
	row := map[string]any{
		"s": "us",
		"i": int64(3),
		"f": 2.5,
		"b": true,
	}
	values, err := ValuesFromRow(row, []string{"s", "i", "f", "b"})
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"us", "3", "2.5", "true"}
	for i, want := range expected {
		if values[i].Value != want {
			t.Fatalf("column %s: expected %s, got %s", values[i].Column, want, values[i].Value)
		}
	}
}

func TestValuesFromRowMissingColumn(t *testing.T) {
	_, err := ValuesFromRow(map[string]any{"region": "us"}, []string{"region", "day"})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
}

func TestValuesFromRowNullValue(t *testing.T) {
	_, err := ValuesFromRow(map[string]any{"region": nil}, []string{"region"})
	if !errors.Is(err, ErrMalformedPartitionValue) {
		t.Fatalf("expected ErrMalformedPartitionValue, got %v", err)
	}
}

func TestSplitBatch(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "region", Type: schema.String},
		schema.Field{Name: "id", Type: schema.Int64},
	)
	b := rowbatch.NewBatch(s, []map[string]any{
		{"region": "us", "id": int64(1)},
		{"region": "eu", "id": int64(2)},
		{"region": "us", "id": int64(3)},
	})

	groups, err := SplitBatch(b, []string{"region"})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	// first-seen order
	if groups[0].Descriptor != "region=us" || groups[1].Descriptor != "region=eu" {
		t.Fatalf("unexpected group order: %s, %s", groups[0].Descriptor, groups[1].Descriptor)
	}
	if len(groups[0].Rows) != 2 || len(groups[1].Rows) != 1 {
		t.Fatalf("unexpected group sizes: %d, %d", len(groups[0].Rows), len(groups[1].Rows))
	}
	if groups[0].Rows[0]["id"] != int64(1) || groups[0].Rows[1]["id"] != int64(3) {
		t.Fatal("row order not preserved within group")
	}
}

func TestSplitBatchNoPartitionColumns(t *testing.T) {
	s := schema.New(schema.Field{Name: "id", Type: schema.Int64})
	b := rowbatch.NewBatch(s, []map[string]any{
		{"id": int64(1)},
		{"id": int64(2)},
	})

	groups, err := SplitBatch(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Descriptor != DefaultDescriptor {
		t.Fatalf("expected default descriptor, got %s", groups[0].Descriptor)
	}
}
