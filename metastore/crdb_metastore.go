package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danthegoodman1/icelake/fragment"
	"github.com/danthegoodman1/icelake/partition"
	"github.com/danthegoodman1/icelake/schema"
	"github.com/danthegoodman1/icelake/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type (
	// CRDBMetaStore is the production catalog, backed by CockroachDB.
	// Each CommitData call is one transaction: all files of one partition
	// descriptor become visible together, independent of sibling descriptors.
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

const crdbTryTimeout = time.Second * 10

func NewCRDBMetaStore(pool *pgxpool.Pool) (*CRDBMetaStore, error) {
	return &CRDBMetaStore{pool: pool}, nil
}

func (cms *CRDBMetaStore) CreateTable(ctx context.Context, info TableInfo) error {
	if info.ID == "" {
		info.ID = utils.GenRandomID("t_")
	}
	schemaJSON, err := json.Marshal(info.Schema)
	if err != nil {
		return fmt.Errorf("error in json.Marshal of schema: %w", err)
	}

	return utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO table_info (id, namespace, name, table_path, partitions, cdc_column, schema_json, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		`, info.ID, info.Namespace, info.Name, info.TablePath, info.PartitionsString(), info.CDCColumn, schemaJSON)
		if err != nil {
			return mapInsertTableErr(err, info.FullName())
		}
		return nil
	})
}

func (cms *CRDBMetaStore) GetTableInfo(ctx context.Context, namespace, name string) (TableInfo, error) {
	var info TableInfo
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `
			SELECT id, namespace, name, table_path, partitions, cdc_column, schema_json, created_at, updated_at
			FROM table_info
			WHERE namespace = $1 AND name = $2
		`, namespace, name)
		var err error
		info, err = scanTableInfo(row)
		return err
	})
	if err != nil {
		return TableInfo{}, err
	}
	return info, nil
}

func (cms *CRDBMetaStore) ListTables(ctx context.Context, namespace string) ([]TableInfo, error) {
	var infos []TableInfo
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, namespace, name, table_path, partitions, cdc_column, schema_json, created_at, updated_at
			FROM table_info
			WHERE namespace = $1
			ORDER BY name
		`, namespace)
		if err != nil {
			return fmt.Errorf("error querying table_info: %w", err)
		}
		defer rows.Close()
		infos = infos[:0]
		for rows.Next() {
			info, err := scanTableInfo(rows)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (cms *CRDBMetaStore) ListFragments(ctx context.Context, namespace, name string) ([]fragment.FileFragment, error) {
	return cms.listFragments(ctx, namespace, name, nil)
}

func (cms *CRDBMetaStore) ListFragmentsInPartitions(ctx context.Context, namespace, name string, descriptors []string) ([]fragment.FileFragment, error) {
	return cms.listFragments(ctx, namespace, name, descriptors)
}

func (cms *CRDBMetaStore) listFragments(ctx context.Context, namespace, name string, descriptors []string) ([]fragment.FileFragment, error) {
	q := `
		SELECT path, partition_desc, bytes, row_count, write_order, schema_json
		FROM data_fragments
		WHERE namespace = $1 AND table_name = $2
	`
	args := []any{namespace, name}
	if descriptors != nil {
		q += ` AND partition_desc = ANY($3)`
		args = append(args, descriptors)
	}
	q += ` ORDER BY write_order`

	var frags []fragment.FileFragment
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("error querying data_fragments: %w", err)
		}
		defer rows.Close()
		frags = frags[:0]
		for rows.Next() {
			var (
				frag       fragment.FileFragment
				descriptor string
				schemaJSON []byte
			)
			if err := rows.Scan(&frag.Path, &descriptor, &frag.SizeBytes, &frag.RowCount, &frag.WriteOrder, &schemaJSON); err != nil {
				return fmt.Errorf("error scanning fragment row: %w", err)
			}
			frag.Schema = &schema.Schema{}
			if err := json.Unmarshal(schemaJSON, frag.Schema); err != nil {
				return fmt.Errorf("error in json.Unmarshal of fragment schema: %w", err)
			}
			frag.PartitionValues, err = partition.Decode(descriptor)
			if err != nil {
				return fmt.Errorf("error decoding descriptor %s: %w", descriptor, err)
			}
			frags = append(frags, frag)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return frags, nil
}

func (cms *CRDBMetaStore) CommitData(ctx context.Context, commit CommitRecord) error {
	commitID := utils.GenKSortedID("c_")
	return utils.ReliableExecInTx(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, tx pgx.Tx) error {
		var writeOrder int64
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(write_order), 0) + 1
			FROM data_fragments
			WHERE namespace = $1 AND table_name = $2
		`, commit.Namespace, commit.TableName).Scan(&writeOrder)
		if err != nil {
			return fmt.Errorf("error selecting next write_order: %w", err)
		}

		for _, f := range commit.Files {
			schemaJSON, err := json.Marshal(f.Schema)
			if err != nil {
				return fmt.Errorf("error in json.Marshal of file schema: %w", err)
			}
			// UPSERT keeps a retried commit from duplicating files
			_, err = tx.Exec(ctx, `
				UPSERT INTO data_fragments (namespace, table_name, partition_desc, path, bytes, row_count, write_order, schema_json, commit_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			`, commit.Namespace, commit.TableName, commit.PartitionDescriptor, f.Path, f.SizeBytes, f.RowCount, writeOrder, schemaJSON, commitID)
			if err != nil {
				return fmt.Errorf("error upserting data_fragments row for %s: %w", f.Path, err)
			}
		}
		return nil
	})
}

func (cms *CRDBMetaStore) Shutdown(_ context.Context) error {
	cms.pool.Close()
	return nil
}

func scanTableInfo(row pgx.Row) (TableInfo, error) {
	var (
		info       TableInfo
		partitions string
		schemaJSON []byte
	)
	err := row.Scan(&info.ID, &info.Namespace, &info.Name, &info.TablePath, &partitions, &info.CDCColumn, &schemaJSON, &info.CreatedAt, &info.UpdatedAt)
	if err == pgx.ErrNoRows {
		return info, utils.NewPermError(ErrTableNotFound)
	}
	if err != nil {
		return info, fmt.Errorf("error scanning table_info row: %w", err)
	}
	info.Schema = &schema.Schema{}
	if err := json.Unmarshal(schemaJSON, info.Schema); err != nil {
		return info, fmt.Errorf("error in json.Unmarshal of table schema: %w", err)
	}
	info.RangePartitions, info.PrimaryKeys, err = ParsePartitions(partitions)
	if err != nil {
		return info, fmt.Errorf("error parsing partitions: %w", err)
	}
	return info, nil
}

// mapInsertTableErr turns a unique violation into the ErrTableExists sentinel,
// permanent so the retry loop stops and still on the chain for errors.Is.
func mapInsertTableErr(err error, fullName string) error {
	if isUniqueViolation(err) {
		return utils.NewPermError(fmt.Errorf("table %s: %w", fullName, ErrTableExists))
	}
	return fmt.Errorf("error inserting table_info: %w", err)
}

func isUniqueViolation(err error) bool {
	// 23505 = unique_violation
	return err != nil && strings.Contains(err.Error(), "23505")
}
