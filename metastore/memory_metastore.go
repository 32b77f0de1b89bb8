package metastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/utils"
)

type (
	// MemoryMetaStore keeps the catalog in process memory. Used by tests and
	// single-node dev setups; semantics (atomic per-call commit, retry
	// idempotency, write order assignment) match the CRDB implementation.
	MemoryMetaStore struct {
		mu     sync.Mutex
		tables map[string]*memTable
	}

	memTable struct {
		info TableInfo
		// fragments keyed by file path, upserted on commit retry
		fragments map[string]memFragment
		// writeOrder is the table's commit sequence
		writeOrder int64
	}

	memFragment struct {
		file       DataFile
		descriptor string
		writeOrder int64
	}
)

func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{
		tables: make(map[string]*memTable),
	}
}

func (mms *MemoryMetaStore) CreateTable(_ context.Context, info TableInfo) error {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	key := info.FullName()
	if _, exists := mms.tables[key]; exists {
		return fmt.Errorf("table %s: %w", key, ErrTableExists)
	}
	if info.ID == "" {
		info.ID = utils.GenRandomID("t_")
	}
	info.CreatedAt = time.Now()
	info.UpdatedAt = info.CreatedAt
	mms.tables[key] = &memTable{
		info:      info,
		fragments: make(map[string]memFragment),
	}
	return nil
}

func (mms *MemoryMetaStore) GetTableInfo(_ context.Context, namespace, name string) (TableInfo, error) {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	t, exists := mms.tables[namespace+"."+name]
	if !exists {
		return TableInfo{}, fmt.Errorf("table %s.%s: %w", namespace, name, ErrTableNotFound)
	}
	return t.info, nil
}

func (mms *MemoryMetaStore) ListTables(_ context.Context, namespace string) ([]TableInfo, error) {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	var infos []TableInfo
	for _, t := range mms.tables {
		if t.info.Namespace == namespace {
			infos = append(infos, t.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (mms *MemoryMetaStore) ListFragments(ctx context.Context, namespace, name string) ([]fragment.FileFragment, error) {
	return mms.ListFragmentsInPartitions(ctx, namespace, name, nil)
}

func (mms *MemoryMetaStore) ListFragmentsInPartitions(_ context.Context, namespace, name string, descriptors []string) ([]fragment.FileFragment, error) {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	t, exists := mms.tables[namespace+"."+name]
	if !exists {
		return nil, fmt.Errorf("table %s.%s: %w", namespace, name, ErrTableNotFound)
	}

	var frags []fragment.FileFragment
	for _, mf := range t.fragments {
		if descriptors != nil && !utils.ContainsString(descriptors, mf.descriptor) {
			continue
		}
		values, err := partition.Decode(mf.descriptor)
		if err != nil {
			return nil, fmt.Errorf("error decoding descriptor %s: %w", mf.descriptor, err)
		}
		frags = append(frags, fragment.FileFragment{
			Path:            mf.file.Path,
			SizeBytes:       mf.file.SizeBytes,
			RowCount:        mf.file.RowCount,
			WriteOrder:      mf.writeOrder,
			Schema:          mf.file.Schema,
			PartitionValues: values,
		})
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].WriteOrder < frags[j].WriteOrder })
	return frags, nil
}

func (mms *MemoryMetaStore) CommitData(_ context.Context, commit CommitRecord) error {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	t, exists := mms.tables[commit.Namespace+"."+commit.TableName]
	if !exists {
		return fmt.Errorf("table %s.%s: %w", commit.Namespace, commit.TableName, ErrTableNotFound)
	}

	t.writeOrder++
	for _, f := range commit.Files {
		t.fragments[f.Path] = memFragment{
			file:       f,
			descriptor: commit.PartitionDescriptor,
			writeOrder: t.writeOrder,
		}
	}
	return nil
}

func (mms *MemoryMetaStore) Shutdown(_ context.Context) error {
	return nil
}
