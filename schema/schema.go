package schema

import (
	"errors"
	"fmt"
)

type (
	// FieldType is the logical column type. The parquet-level physical type
	// lives in parquet_codec.
	FieldType string

	Field struct {
		Name     string
		Type     FieldType
		Nullable bool
	}

	// Schema is an ordered list of fields. Field order is significant: the
	// trailing projection in the scan planner reproduces the caller's
	// requested ordering.
	Schema struct {
		Fields []Field
	}
)

const (
	String  FieldType = "string"
	Int64   FieldType = "int64"
	Uint64  FieldType = "uint64"
	Float64 FieldType = "float64"
	Bool    FieldType = "bool"
)

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrFieldNotFound  = errors.New("field not found")
)

func New(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func (s *Schema) NumFields() int {
	return len(s.Fields)
}

// Project returns a schema with exactly the named fields, in the given order.
func (s *Schema) Project(names []string) (*Schema, error) {
	out := &Schema{Fields: make([]Field, 0, len(names))}
	for _, name := range names {
		f, ok := s.Field(name)
		if !ok {
			return nil, fmt.Errorf("projecting column %s: %w", name, ErrFieldNotFound)
		}
		out.Fields = append(out.Fields, f)
	}
	return out, nil
}

func (s *Schema) Equal(other *Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// WithPartitionColumns returns the table-level schema: the file schema plus
// one non-nullable string field per partition column. Partition columns are
// reconstructed from the storage path, so at the table level they always have
// a value.
func (s *Schema) WithPartitionColumns(cols []string) *Schema {
	out := &Schema{Fields: append([]Field{}, s.Fields...)}
	for _, col := range cols {
		if out.HasField(col) {
			continue
		}
		out.Fields = append(out.Fields, Field{Name: col, Type: String, Nullable: false})
	}
	return out
}

// Union merges two schemas. Fields of s keep their position; fields only in
// other are appended. A field present in both widens to nullable if either
// side is nullable, and never narrows. Conflicting types fail with
// ErrSchemaMismatch.
func (s *Schema) Union(other *Schema) (*Schema, error) {
	out := &Schema{Fields: append([]Field{}, s.Fields...)}
	for i, f := range out.Fields {
		of, ok := other.Field(f.Name)
		if !ok {
			continue
		}
		if of.Type != f.Type {
			return nil, fmt.Errorf("column %s is %s on one side and %s on the other: %w", f.Name, f.Type, of.Type, ErrSchemaMismatch)
		}
		out.Fields[i].Nullable = f.Nullable || of.Nullable
	}
	for _, of := range other.Fields {
		if !out.HasField(of.Name) {
			out.Fields = append(out.Fields, of)
		}
	}
	return out, nil
}

// WidenNullable marks the named fields nullable, leaving the rest untouched.
// Used by the scan planner to reconcile nullability across a partition
// group's fragments.
func (s *Schema) WidenNullable(nullableCols map[string]bool) *Schema {
	out := &Schema{Fields: append([]Field{}, s.Fields...)}
	for i, f := range out.Fields {
		if nullableCols[f.Name] {
			out.Fields[i].Nullable = true
		}
	}
	return out
}

// MergedProjection computes the minimal schema that covers the requested
// columns plus the primary key and CDC columns the merge reader and tombstone
// filter need. Fields keep table order. The result may be a strict superset
// of the request, in which case the planner adds a trailing projection.
func MergedProjection(table *Schema, requested []string, primaryKeys []string, cdcColumn string) (*Schema, error) {
	needed := make(map[string]bool, len(requested)+len(primaryKeys)+1)
	for _, name := range requested {
		if !table.HasField(name) {
			return nil, fmt.Errorf("requested column %s not in table schema: %w", name, ErrFieldNotFound)
		}
		needed[name] = true
	}
	for _, name := range primaryKeys {
		if !table.HasField(name) {
			return nil, fmt.Errorf("primary key column %s not in table schema: %w", name, ErrSchemaMismatch)
		}
		needed[name] = true
	}
	if cdcColumn != "" {
		if !table.HasField(cdcColumn) {
			return nil, fmt.Errorf("cdc column %s not in table schema: %w", cdcColumn, ErrSchemaMismatch)
		}
		needed[cdcColumn] = true
	}

	out := &Schema{Fields: make([]Field, 0, len(needed))}
	for _, f := range table.Fields {
		if needed[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out, nil
}

// CheckFragment validates a fragment's schema against the table schema:
// every fragment field must exist in the table with the same type. Fragments
// may cover a subset of columns (older writes before columns were added).
func CheckFragment(table *Schema, frag *Schema) error {
	for _, f := range frag.Fields {
		tf, ok := table.Field(f.Name)
		if !ok {
			return fmt.Errorf("fragment column %s not in table schema: %w", f.Name, ErrSchemaMismatch)
		}
		if tf.Type != f.Type {
			return fmt.Errorf("fragment column %s is %s but table has %s: %w", f.Name, f.Type, tf.Type, ErrSchemaMismatch)
		}
	}
	return nil
}
