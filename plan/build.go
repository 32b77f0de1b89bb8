package plan

import (
	"fmt"

	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/merge_reader"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/schema"
)

type (
	// ScanConfig is everything BuildScan needs to turn a table's fragments
	// into one executable read plan.
	ScanConfig struct {
		Table metastore.TableInfo
		// Fragments to scan, already pruned by the caller (partition
		// listing, predicate pushdown)
		Fragments []fragment.FileFragment
		// RequestedColumns is the caller's projection; empty means the full
		// table schema
		RequestedColumns []string
		// Predicate filters result rows. It is additionally pushed into
		// fragment scans when that cannot change results (no primary keys,
		// so no dedup that a pre-merge filter could bias).
		Predicate func(row map[string]any) bool
		Store     datastore.DataStore
		BatchSize int
	}

	partitionGroup struct {
		descriptor string
		values     []partition.ColumnValue
		fragments  []fragment.FileFragment
	}
)

// BuildScan builds the read plan for a table scan:
//  1. table schema = file schema ∪ partition columns (non-nullable)
//  2. merged schema = requested ∪ primary keys ∪ CDC column
//  3. group fragments into partition groups by descriptor
//  4. per group, merge-read the group's fragments with nullability widened
//     across members
//  5. union the groups
//  6. filter CDC tombstones
//  7. project down to the requested schema if the merge needed extra columns
//
// Any schema inconsistency aborts with no partial plan.
func BuildScan(cfg ScanConfig) (Node, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = merge_reader.DefaultBatchSize
	}

	tableSchema := cfg.Table.Schema.WithPartitionColumns(cfg.Table.RangePartitions)

	requested := cfg.RequestedColumns
	if len(requested) == 0 {
		requested = tableSchema.FieldNames()
	}
	targetSchema, err := tableSchema.Project(requested)
	if err != nil {
		return nil, fmt.Errorf("error projecting requested columns: %w", err)
	}

	mergedSchema, err := schema.MergedProjection(tableSchema, requested, cfg.Table.PrimaryKeys, cfg.Table.CDCColumn)
	if err != nil {
		return nil, fmt.Errorf("error computing merged schema: %w", err)
	}

	groups, err := groupFragments(tableSchema, cfg.Fragments)
	if err != nil {
		return nil, err
	}

	var node Node
	if len(groups) == 0 {
		node = &EmptyScan{schema: mergedSchema}
	} else {
		merges := make([]Node, 0, len(groups))
		for _, group := range groups {
			merges = append(merges, buildGroupScan(cfg, group, mergedSchema))
		}
		if len(merges) > 1 {
			unionSchema := merges[0].NodeSchema()
			for _, m := range merges[1:] {
				unionSchema, err = unionSchema.Union(m.NodeSchema())
				if err != nil {
					return nil, fmt.Errorf("error unioning group schemas: %w", err)
				}
			}
			node = &Union{inputs: merges, schema: unionSchema}
		} else {
			node = merges[0]
		}
	}

	if cfg.Table.CDCColumn != "" {
		node = &CDCFilter{input: node, cdcColumn: cfg.Table.CDCColumn}
	}

	if cfg.Predicate != nil {
		node = &Filter{input: node, pred: cfg.Predicate}
	}

	if targetSchema.NumFields() < node.NodeSchema().NumFields() {
		node = &Projection{input: node, target: targetSchema}
	}

	return node, nil
}

// groupFragments validates every fragment against the table schema and
// partitions them into groups by partition descriptor. Group order follows
// first appearance; readers get no cross-group ordering anyway.
func groupFragments(tableSchema *schema.Schema, fragments []fragment.FileFragment) ([]partitionGroup, error) {
	var groups []partitionGroup
	index := make(map[string]int)
	for _, frag := range fragments {
		if err := schema.CheckFragment(tableSchema, frag.Schema); err != nil {
			return nil, fmt.Errorf("fragment %s: %w", frag.Path, err)
		}
		desc, err := frag.PartitionDescriptor()
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", frag.Path, err)
		}
		i, exists := index[desc]
		if !exists {
			i = len(groups)
			index[desc] = i
			groups = append(groups, partitionGroup{descriptor: desc, values: frag.PartitionValues})
		}
		groups[i].fragments = append(groups[i].fragments, frag)
	}
	return groups, nil
}

// buildGroupScan builds one partition group's merge node. The group's schema
// starts from the merged schema and widens a field to nullable when any
// member fragment has it nullable or lacks it entirely (rows from such
// fragments surface nil for it). Widening is monotonic: never narrows.
func buildGroupScan(cfg ScanConfig, group partitionGroup, mergedSchema *schema.Schema) Node {
	partitionCols := make(map[string]bool, len(cfg.Table.RangePartitions))
	for _, col := range cfg.Table.RangePartitions {
		partitionCols[col] = true
	}

	nullable := make(map[string]bool)
	for _, f := range mergedSchema.Fields {
		if partitionCols[f.Name] {
			// always reconstructed from the group's values, never null
			continue
		}
		for _, frag := range group.fragments {
			ff, ok := frag.Schema.Field(f.Name)
			if !ok || ff.Nullable {
				nullable[f.Name] = true
				break
			}
		}
	}
	groupSchema := mergedSchema.WidenNullable(nullable)

	// the fragment scans produce the merged schema minus partition columns,
	// the merge reader annotates partition values back in
	var scanFields []string
	for _, f := range groupSchema.Fields {
		if !partitionCols[f.Name] {
			scanFields = append(scanFields, f.Name)
		}
	}
	scanSchema, _ := groupSchema.Project(scanFields)

	var pushdown func(row map[string]any) bool
	if len(cfg.Table.PrimaryKeys) == 0 && len(cfg.Table.RangePartitions) == 0 {
		// without dedup a pre-merge filter cannot change which rows win, and
		// without partition columns the predicate sees complete rows, so the
		// same predicate can also skip work early inside the fragment scans
		pushdown = cfg.Predicate
	}

	children := make([]*FragmentScan, 0, len(group.fragments))
	for _, frag := range group.fragments {
		children = append(children, &FragmentScan{
			Fragment:   frag,
			Store:      cfg.Store,
			scanSchema: scanSchema,
			predicate:  pushdown,
			batchSize:  cfg.BatchSize,
		})
	}

	return &MergeScan{
		children:        children,
		groupSchema:     groupSchema,
		primaryKeys:     cfg.Table.PrimaryKeys,
		partitionValues: group.values,
		batchSize:       cfg.BatchSize,
	}
}
