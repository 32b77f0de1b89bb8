package parquet_codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/danthegoodman1/icelake/schema"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

type (
	parquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*parquetJSONSchema `json:",omitempty"`
	}
)

var (
	ErrUnsupportedType = errors.New("unsupported column type")
	ErrNullInRequired  = errors.New("null value in non-nullable column")
)

// SchemaString renders a logical schema as the parquet-go JSON schema string.
// Column names are upper-cased on the first letter (parquet-go maps them to
// struct field names on read), nullable fields become OPTIONAL.
func SchemaString(s *schema.Schema) (string, error) {
	root := parquetJSONSchema{
		Tag: "name=parquet_go_root, repetitiontype=REQUIRED",
	}
	for _, f := range s.Fields {
		var tagArr []string
		switch f.Type {
		case schema.String:
			tagArr = append(tagArr, "type=BYTE_ARRAY", "convertedtype=UTF8", "encoding=PLAIN")
		case schema.Int64:
			tagArr = append(tagArr, "type=INT64")
		case schema.Uint64:
			tagArr = append(tagArr, "type=INT64", "convertedtype=UINT_64")
		case schema.Float64:
			tagArr = append(tagArr, "type=DOUBLE")
		case schema.Bool:
			tagArr = append(tagArr, "type=BOOLEAN")
		default:
			return "", fmt.Errorf("column %s has type %s: %w", f.Name, f.Type, ErrUnsupportedType)
		}
		tagArr = append(tagArr, "name="+fieldName(f.Name))
		if f.Nullable {
			tagArr = append(tagArr, "repetitiontype=OPTIONAL")
		} else {
			tagArr = append(tagArr, "repetitiontype=REQUIRED")
		}
		root.Fields = append(root.Fields, &parquetJSONSchema{Tag: strings.Join(tagArr, ", ")})
	}

	b, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// WriteRows encodes rows under the given schema into an in-memory parquet
// file. Row values are coerced to the declared column types (JSON decoding
// hands every number over as float64).
func WriteRows(s *schema.Schema, rows []map[string]any) (*bytes.Buffer, error) {
	schemaStr, err := SchemaString(s)
	if err != nil {
		return nil, fmt.Errorf("error in SchemaString: %w", err)
	}

	var b bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(schemaStr, &b, 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}

	for _, row := range rows {
		encRow := make(map[string]any, s.NumFields())
		for _, f := range s.Fields {
			val, err := coerceValue(f, row[f.Name])
			if err != nil {
				return nil, err
			}
			if val == nil && !f.Nullable {
				return nil, fmt.Errorf("column %s: %w", f.Name, ErrNullInRequired)
			}
			encRow[fieldName(f.Name)] = val
		}
		rowBytes, err := json.Marshal(encRow)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(rowBytes); err != nil {
			return nil, fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error in pw.WriteStop: %w", err)
	}

	return &b, nil
}

// ReadRows decodes a whole in-memory parquet file back into rows keyed by the
// logical (original case) column names of fileSchema.
func ReadRows(data []byte, fileSchema *schema.Schema) ([]map[string]any, error) {
	bf := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(bf, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewParquetReader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	structRows, err := pr.ReadByNumber(numRows)
	if err != nil {
		return nil, fmt.Errorf("error in ReadByNumber: %w", err)
	}

	rows := make([]map[string]any, 0, len(structRows))
	for _, structRow := range structRows {
		v := reflect.ValueOf(structRow)
		row := make(map[string]any, fileSchema.NumFields())
		for _, f := range fileSchema.Fields {
			sf := v.FieldByName(fieldName(f.Name))
			if !sf.IsValid() {
				continue
			}
			if sf.Kind() == reflect.Ptr {
				if sf.IsNil() {
					row[f.Name] = nil
					continue
				}
				sf = sf.Elem()
			}
			row[f.Name] = decodeValue(f, sf.Interface())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fieldName is the parquet-go facing name of a column
func fieldName(name string) string {
	return strings.ToUpper(name[:1]) + name[1:]
}

func coerceValue(f schema.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Type {
	case schema.String:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case schema.Int64:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	case schema.Uint64:
		switch v := raw.(type) {
		case uint64:
			return v, nil
		case int64:
			return uint64(v), nil
		case float64:
			return uint64(v), nil
		}
	case schema.Float64:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case schema.Bool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("column %s: value %v (%T) does not fit %s: %w", f.Name, raw, raw, f.Type, ErrUnsupportedType)
}

func decodeValue(f schema.Field, raw any) any {
	switch f.Type {
	case schema.Int64:
		switch v := raw.(type) {
		case int32:
			return int64(v)
		case int64:
			return v
		}
	case schema.Uint64:
		switch v := raw.(type) {
		case int64:
			return uint64(v)
		case uint64:
			return v
		}
	case schema.Float64:
		if v, ok := raw.(float32); ok {
			return float64(v)
		}
	}
	return raw
}
