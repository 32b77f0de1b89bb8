package schema

import (
	"errors"
	"testing"
)

func TestUnionWidensNullability(t *testing.T) {
	a := New(
		Field{Name: "id", Type: Int64, Nullable: false},
		Field{Name: "name", Type: String, Nullable: false},
	)
	b := New(
		Field{Name: "id", Type: Int64, Nullable: false},
		Field{Name: "name", Type: String, Nullable: true},
		Field{Name: "age", Type: Int64, Nullable: false},
	)

	u, err := a.Union(b)
	if err != nil {
		t.Fatal(err)
	}
	if u.NumFields() != 3 {
		t.Fatalf("expected 3 fields, got %d", u.NumFields())
	}
	name, _ := u.Field("name")
	if !name.Nullable {
		t.Fatal("name should have widened to nullable")
	}
	id, _ := u.Field("id")
	if id.Nullable {
		t.Fatal("id should have stayed non-nullable")
	}
	if !u.HasField("age") {
		t.Fatal("age missing from union")
	}
}

func TestUnionNeverNarrows(t *testing.T) {
	a := New(Field{Name: "x", Type: String, Nullable: true})
	b := New(Field{Name: "x", Type: String, Nullable: false})

	u, err := a.Union(b)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := u.Field("x")
	if !x.Nullable {
		t.Fatal("nullable must not narrow back to required")
	}
}

func TestUnionTypeConflict(t *testing.T) {
	a := New(Field{Name: "x", Type: String})
	b := New(Field{Name: "x", Type: Int64})
	_, err := a.Union(b)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestProjectOrder(t *testing.T) {
	s := New(
		Field{Name: "a", Type: String},
		Field{Name: "b", Type: Int64},
		Field{Name: "c", Type: Bool},
	)
	p, err := s.Project([]string{"c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Fields[0].Name != "c" || p.Fields[1].Name != "a" {
		t.Fatalf("projection did not preserve requested order: %+v", p.FieldNames())
	}
}

func TestProjectUnknownColumn(t *testing.T) {
	s := New(Field{Name: "a", Type: String})
	_, err := s.Project([]string{"nope"})
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestMergedProjection(t *testing.T) {
	table := New(
		Field{Name: "id", Type: Int64},
		Field{Name: "name", Type: String},
		Field{Name: "age", Type: Int64},
		Field{Name: "op", Type: String},
	)

	m, err := MergedProjection(table, []string{"name"}, []string{"id"}, "op")
	if err != nil {
		t.Fatal(err)
	}
	// table order, requested plus pk plus cdc
	want := []string{"id", "name", "op"}
	got := m.FieldNames()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMergedProjectionNoExtras(t *testing.T) {
	table := New(
		Field{Name: "id", Type: Int64},
		Field{Name: "name", Type: String},
	)
	m, err := MergedProjection(table, []string{"id", "name"}, []string{"id"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if m.NumFields() != 2 {
		t.Fatalf("expected request to already cover the merge columns, got %v", m.FieldNames())
	}
}

func TestMergedProjectionUnknownRequested(t *testing.T) {
	table := New(Field{Name: "id", Type: Int64})
	_, err := MergedProjection(table, []string{"missing"}, nil, "")
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestCheckFragmentSubsetAllowed(t *testing.T) {
	table := New(
		Field{Name: "id", Type: Int64},
		Field{Name: "name", Type: String, Nullable: true},
	)
	frag := New(Field{Name: "id", Type: Int64})
	if err := CheckFragment(table, frag); err != nil {
		t.Fatal(err)
	}
}

func TestCheckFragmentTypeMismatch(t *testing.T) {
	table := New(Field{Name: "id", Type: Int64})
	frag := New(Field{Name: "id", Type: String})
	err := CheckFragment(table, frag)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestWithPartitionColumns(t *testing.T) {
	s := New(Field{Name: "id", Type: Int64})
	table := s.WithPartitionColumns([]string{"region"})
	f, ok := table.Field("region")
	if !ok {
		t.Fatal("region missing")
	}
	if f.Type != String || f.Nullable {
		t.Fatalf("partition columns must be non-nullable strings, got %+v", f)
	}
	// original untouched
	if s.HasField("region") {
		t.Fatal("WithPartitionColumns mutated the receiver")
	}
}
