package partition

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/danthegoodman1/icelake/rowbatch"
)

type (
	// ColumnValue is one range-partition column's stringified value. Order
	// matters: descriptors are built from the table's partition column order.
	ColumnValue struct {
		Column string
		Value  string
	}

	// Group is one slice of a batch whose rows all share a descriptor.
	Group struct {
		Descriptor string
		Values     []ColumnValue
		Rows       []map[string]any
	}
)

// DefaultDescriptor is the descriptor shared by every row of a table with no
// range partition columns.
const DefaultDescriptor = "-5"

var (
	ErrMalformedPartitionValue = errors.New("malformed partition value")
	ErrMissingColumns          = errors.New("missing one or more partition columns")
	ErrInvalidColumnType       = errors.New("invalid partition column type")
)

// ValuesFromRow extracts and stringifies the range-partition column values of
// a row, in rangeCols order.
func ValuesFromRow(row map[string]any, rangeCols []string) ([]ColumnValue, error) {
	values := make([]ColumnValue, 0, len(rangeCols))
	for _, col := range rangeCols {
		raw, exists := row[col]
		if !exists {
			return nil, fmt.Errorf("column %s: %w", col, ErrMissingColumns)
		}
		s, err := stringifyValue(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		values = append(values, ColumnValue{Column: col, Value: s})
	}
	return values, nil
}

func stringifyValue(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		// partition columns are non-nullable at the table level
		return "", ErrMalformedPartitionValue
	case string:
		return v, nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", ErrInvalidColumnType
	}
}

// Encode builds the stable descriptor key for one combination of partition
// values: col=value pairs joined by commas, values escaped so distinct tuples
// can never collide. Deterministic: equal inputs always produce byte-equal
// descriptors.
func Encode(values []ColumnValue) (string, error) {
	if len(values) == 0 {
		return DefaultDescriptor, nil
	}
	parts := make([]string, len(values))
	for i, cv := range values {
		if err := checkColumnName(cv.Column); err != nil {
			return "", err
		}
		parts[i] = cv.Column + "=" + url.QueryEscape(cv.Value)
	}
	return strings.Join(parts, ","), nil
}

// SubPath renders partition values as the relative storage path fragment,
// hive-style, with a trailing slash: "region=us/day=3/". Empty for
// unpartitioned tables.
func SubPath(values []ColumnValue) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, cv := range values {
		if err := checkColumnName(cv.Column); err != nil {
			return "", err
		}
		sb.WriteString(cv.Column)
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(cv.Value))
		sb.WriteString("/")
	}
	return sb.String(), nil
}

// Decode parses a descriptor back into its column values.
func Decode(descriptor string) ([]ColumnValue, error) {
	if descriptor == DefaultDescriptor {
		return nil, nil
	}
	if descriptor == "" {
		return nil, fmt.Errorf("empty descriptor: %w", ErrMalformedPartitionValue)
	}
	parts := strings.Split(descriptor, ",")
	values := make([]ColumnValue, len(parts))
	for i, part := range parts {
		col, escaped, found := strings.Cut(part, "=")
		if !found || col == "" {
			return nil, fmt.Errorf("descriptor segment %q: %w", part, ErrMalformedPartitionValue)
		}
		val, err := url.QueryUnescape(escaped)
		if err != nil {
			return nil, fmt.Errorf("descriptor segment %q: %w", part, ErrMalformedPartitionValue)
		}
		values[i] = ColumnValue{Column: col, Value: val}
	}
	return values, nil
}

// SplitBatch groups a batch's rows by partition descriptor, preserving row
// order within each group and first-seen group order. A batch whose rows all
// share one partition comes back as a single group.
func SplitBatch(b *rowbatch.Batch, rangeCols []string) ([]Group, error) {
	var groups []Group
	index := make(map[string]int)
	for _, row := range b.Rows {
		values, err := ValuesFromRow(row, rangeCols)
		if err != nil {
			return nil, err
		}
		desc, err := Encode(values)
		if err != nil {
			return nil, err
		}
		i, exists := index[desc]
		if !exists {
			i = len(groups)
			index[desc] = i
			groups = append(groups, Group{Descriptor: desc, Values: values})
		}
		groups[i].Rows = append(groups[i].Rows, row)
	}
	return groups, nil
}

func checkColumnName(col string) error {
	if col == "" || strings.ContainsAny(col, "=,/") {
		return fmt.Errorf("column name %q: %w", col, ErrMalformedPartitionValue)
	}
	return nil
}
