package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/gologger"
	"github.com/danthegoodman1/icelake/schema"
)

var (
	logger = gologger.NewLogger()

	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
)

type (
	MetaStore interface {
		// CreateTable registers a new table
		CreateTable(ctx context.Context, info TableInfo) error
		// GetTableInfo fetches a table's catalog record
		GetTableInfo(ctx context.Context, namespace, name string) (TableInfo, error)
		ListTables(ctx context.Context, namespace string) ([]TableInfo, error)

		// ListFragments lists all live file fragments of a table
		ListFragments(ctx context.Context, namespace, name string) ([]fragment.FileFragment, error)
		// ListFragmentsInPartitions lists only fragments whose partition
		// descriptor is in descriptors, for partition-pruned scans
		ListFragmentsInPartitions(ctx context.Context, namespace, name string, descriptors []string) ([]fragment.FileFragment, error)

		// CommitData registers a batch of new files for one partition
		// descriptor of one table, atomically for the call. Safe to retry:
		// re-committing the same file paths overwrites rather than
		// duplicates. Files become visible to ListFragments as soon as the
		// call returns, independent of any sibling descriptor's commit.
		CommitData(ctx context.Context, commit CommitRecord) error

		Shutdown(ctx context.Context) error
	}

	TableInfo struct {
		ID        string
		Namespace string
		Name      string
		// TablePath is the storage root all of the table's files live under
		TablePath string
		// RangePartitions is the ordered list of range-partition column names
		RangePartitions []string
		// PrimaryKeys is the ordered list of primary-key column names, empty
		// for append-only tables
		PrimaryKeys []string
		// CDCColumn names the change-kind column, empty when CDC is disabled
		CDCColumn string
		// Schema is the base file schema (partition columns excluded)
		Schema *schema.Schema

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// DataFile is one newly written file in a commit
	DataFile struct {
		Path      string
		SizeBytes int64
		RowCount  int64
		// Schema the file was written with (may trail the table schema)
		Schema *schema.Schema
	}

	// CommitRecord registers one partition descriptor's new files
	CommitRecord struct {
		Namespace           string
		TableName           string
		PartitionDescriptor string
		Files               []DataFile
		// RowCount is informational, for statistics
		RowCount int64
	}
)

func (ti TableInfo) FullName() string {
	return ti.Namespace + "." + ti.Name
}

// PartitionsString encodes partition config the way the catalog stores it:
// range columns comma-joined, then ";", then primary key columns.
func (ti TableInfo) PartitionsString() string {
	return strings.Join(ti.RangePartitions, ",") + ";" + strings.Join(ti.PrimaryKeys, ",")
}

// ParsePartitions splits a stored partitions string back into range-partition
// and primary-key column lists.
func ParsePartitions(partitions string) (rangePartitions, primaryKeys []string, err error) {
	rangePart, pkPart, found := strings.Cut(partitions, ";")
	if !found {
		return nil, nil, fmt.Errorf("partitions string %q missing separator", partitions)
	}
	if rangePart != "" {
		rangePartitions = strings.Split(rangePart, ",")
	}
	if pkPart != "" {
		primaryKeys = strings.Split(pkPart, ",")
	}
	return rangePartitions, primaryKeys, nil
}
