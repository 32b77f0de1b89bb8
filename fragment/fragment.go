package fragment

import (
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/schema"
)

type (
	// FileFragment describes one physical data file: where it lives, what it
	// contains, and the partition-column values that apply uniformly to every
	// row in it (derived from the storage path, not stored per row).
	FileFragment struct {
		// Path is the full storage path of the file
		Path      string
		SizeBytes int64
		RowCount  int64
		// WriteOrder is the commit sequence of the fragment within its table,
		// the recency signal the merge reader breaks primary-key ties with.
		// Higher wins.
		WriteOrder int64
		Schema     *schema.Schema
		// PartitionValues in table partition-column order
		PartitionValues []partition.ColumnValue
	}
)

func (f *FileFragment) PartitionDescriptor() (string, error) {
	return partition.Encode(f.PartitionValues)
}
