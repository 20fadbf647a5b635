// Package inspector discovers and caches database, table, and column
// metadata from the analytical database's information_schema.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/gateway"
	"github.com/dbsmedya/schemasentry/internal/logger"
	"github.com/dbsmedya/schemasentry/internal/schema"
)

// ErrMetadataUnavailable marks degraded mode: the database could not
// be reached and the caller configured fallback instead of failure.
var ErrMetadataUnavailable = errors.New("schema metadata unavailable")

// NotFoundError is returned when a requested object does not exist.
type NotFoundError struct {
	Kind string // "database", "table", "column"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// systemSchemas are excluded from discovery.
var systemSchemas = []string{"information_schema", "performance_schema", "mysql", "sys"}

// Inspector serves metadata requests, caching results and coalescing
// concurrent identical lookups into single gateway calls.
type Inspector struct {
	gw       gateway.Executor
	store    *cache.Store
	group    *dedup.Group
	cacheCfg config.CacheConfig
	fallback bool
	logger   *logger.Logger
}

// New creates an Inspector.
func New(gw gateway.Executor, store *cache.Store, group *dedup.Group, cacheCfg config.CacheConfig, fallback bool, log *logger.Logger) *Inspector {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Inspector{
		gw:       gw,
		store:    store,
		group:    group,
		cacheCfg: cacheCfg,
		fallback: fallback,
		logger:   log,
	}
}

// cached runs produce at most once per key across concurrent callers,
// routing through the cache on both sides of the dedup group: the
// fast path hits the warm entry, and the producer re-checks under the
// group so concurrent misses resolve to a single gateway call.
func (ins *Inspector) cached(key, ttlClass string, produce func() (interface{}, error)) (interface{}, error) {
	if v, ok := ins.store.Get(key); ok {
		return v, nil
	}

	v, _, err := ins.group.Do(key, func() (interface{}, error) {
		if v, ok := ins.store.Get(key); ok {
			return v, nil
		}
		v, err := produce()
		if err != nil {
			return nil, err
		}
		ins.store.Set(key, v, ins.cacheCfg.TTLFor(ttlClass))
		return v, nil
	})
	if err != nil && ins.fallback {
		var connErr *gateway.ConnectionError
		if errors.As(err, &connErr) {
			ins.logger.Warnf("metadata lookup degraded: %v", err)
			return nil, ErrMetadataUnavailable
		}
	}
	return v, err
}

// DiscoverDatabases lists all non-system databases with charset,
// collation, and table counts.
func (ins *Inspector) DiscoverDatabases(ctx context.Context) ([]schema.DatabaseInfo, error) {
	key := cacheKey("databases", nil)

	v, err := ins.cached(key, "databases", func() (interface{}, error) {
		return ins.queryDatabases(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]schema.DatabaseInfo), nil
}

func (ins *Inspector) queryDatabases(ctx context.Context) ([]schema.DatabaseInfo, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(systemSchemas)), ",")
	query := fmt.Sprintf(`SELECT schema_name, default_character_set_name, default_collation_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN (%s)
		ORDER BY schema_name`, placeholders)

	args := make([]interface{}, len(systemSchemas))
	for i, s := range systemSchemas {
		args[i] = s
	}

	rows, err := ins.gw.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	counts, err := ins.queryTableCounts(ctx)
	if err != nil {
		return nil, err
	}

	databases := make([]schema.DatabaseInfo, 0, len(rows.Records))
	for _, rec := range rows.Records {
		name := gateway.ToString(rec["schema_name"])
		databases = append(databases, schema.DatabaseInfo{
			Name:       name,
			Charset:    gateway.ToString(rec["default_character_set_name"]),
			Collation:  gateway.ToString(rec["default_collation_name"]),
			TableCount: counts[name],
		})
	}
	return databases, nil
}

func (ins *Inspector) queryTableCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT table_schema, COUNT(*) AS table_count
		FROM information_schema.tables
		GROUP BY table_schema`)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows.Records))
	for _, rec := range rows.Records {
		counts[gateway.ToString(rec["table_schema"])] = gateway.ToInt64(rec["table_count"])
	}
	return counts, nil
}

// GetTables lists tables and views in a database with size estimates.
func (ins *Inspector) GetTables(ctx context.Context, database string) ([]schema.TableInfo, error) {
	key := cacheKey("tables", map[string]string{"database": database})

	v, err := ins.cached(key, "tables", func() (interface{}, error) {
		return ins.queryTables(ctx, database)
	})
	if err != nil {
		return nil, err
	}
	return v.([]schema.TableInfo), nil
}

func (ins *Inspector) queryTables(ctx context.Context, database string) ([]schema.TableInfo, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT table_name, table_type, table_rows,
			COALESCE(data_length, 0) + COALESCE(index_length, 0) AS size_bytes,
			table_comment
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`, database)
	if err != nil {
		return nil, err
	}

	tables := make([]schema.TableInfo, 0, len(rows.Records))
	for _, rec := range rows.Records {
		tables = append(tables, schema.TableInfo{
			Name:        gateway.ToString(rec["table_name"]),
			Type:        tableType(gateway.ToString(rec["table_type"])),
			RowEstimate: gateway.ToInt64(rec["table_rows"]),
			SizeBytes:   gateway.ToInt64(rec["size_bytes"]),
			Comment:     gateway.ToString(rec["table_comment"]),
		})
	}
	return tables, nil
}

func tableType(informationSchemaType string) string {
	if informationSchemaType == "VIEW" {
		return "view"
	}
	return "table"
}

// GetTableSchema merges the column, index, primary-key, and
// foreign-key metadata of one table into a single TableSchema.
func (ins *Inspector) GetTableSchema(ctx context.Context, database, table string) (*schema.TableSchema, error) {
	key := cacheKey("schema", map[string]string{"database": database, "table": table})

	v, err := ins.cached(key, "schema", func() (interface{}, error) {
		return ins.querySchema(ctx, database, table)
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema.TableSchema), nil
}

// querySchema issues the four independent metadata queries and merges
// them. Column order follows ORDINAL_POSITION; PK/FK flags are set by
// cross-referencing the key queries against the column list by name.
func (ins *Inspector) querySchema(ctx context.Context, database, table string) (*schema.TableSchema, error) {
	columns, err := ins.queryColumns(ctx, database, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Kind: "table", Name: database + "." + table}
	}

	indexes, err := ins.queryIndexes(ctx, database, table)
	if err != nil {
		return nil, err
	}
	primaryKeys, err := ins.queryPrimaryKeys(ctx, database, table)
	if err != nil {
		return nil, err
	}
	foreignKeys, err := ins.queryForeignKeys(ctx, database, table)
	if err != nil {
		return nil, err
	}

	ts := &schema.TableSchema{
		Database:    database,
		Table:       table,
		Columns:     columns,
		Indexes:     indexes,
		PrimaryKeys: primaryKeys,
		ForeignKeys: foreignKeys,
	}

	for _, pk := range primaryKeys {
		if col := ts.Column(pk); col != nil {
			col.IsPrimaryKey = true
		}
	}
	for _, fk := range foreignKeys {
		if col := ts.Column(fk.Column); col != nil {
			col.IsForeignKey = true
		}
	}
	return ts, nil
}

func (ins *Inspector) queryColumns(ctx context.Context, database, table string) ([]schema.ColumnInfo, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT column_name, data_type, character_maximum_length,
			is_nullable, column_default, column_comment, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, database, table)
	if err != nil {
		return nil, err
	}

	columns := make([]schema.ColumnInfo, 0, len(rows.Records))
	for _, rec := range rows.Records {
		columns = append(columns, schema.ColumnInfo{
			Name:            gateway.ToString(rec["column_name"]),
			DataType:        gateway.ToString(rec["data_type"]),
			MaxLength:       gateway.ToInt64(rec["character_maximum_length"]),
			IsNullable:      gateway.ToString(rec["is_nullable"]) == "YES",
			DefaultValue:    gateway.ToString(rec["column_default"]),
			Comment:         gateway.ToString(rec["column_comment"]),
			IsAutoIncrement: strings.Contains(gateway.ToString(rec["extra"]), "auto_increment"),
		})
	}
	return columns, nil
}

func (ins *Inspector) queryIndexes(ctx context.Context, database, table string) ([]schema.IndexInfo, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT index_name, MIN(non_unique) AS non_unique, MIN(index_type) AS index_type,
			GROUP_CONCAT(column_name ORDER BY seq_in_index) AS column_names
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name != 'PRIMARY'
		GROUP BY index_name
		ORDER BY index_name`, database, table)
	if err != nil {
		return nil, err
	}

	indexes := make([]schema.IndexInfo, 0, len(rows.Records))
	for _, rec := range rows.Records {
		indexes = append(indexes, schema.IndexInfo{
			Name:     gateway.ToString(rec["index_name"]),
			Columns:  strings.Split(gateway.ToString(rec["column_names"]), ","),
			IsUnique: gateway.ToInt64(rec["non_unique"]) == 0,
			Type:     gateway.ToString(rec["index_type"]),
		})
	}
	return indexes, nil
}

func (ins *Inspector) queryPrimaryKeys(ctx context.Context, database, table string) ([]string, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, database, table)
	if err != nil {
		return nil, err
	}

	primaryKeys := make([]string, 0, len(rows.Records))
	for _, rec := range rows.Records {
		primaryKeys = append(primaryKeys, gateway.ToString(rec["column_name"]))
	}
	return primaryKeys, nil
}

func (ins *Inspector) queryForeignKeys(ctx context.Context, database, table string) ([]schema.ForeignKey, error) {
	rows, err := ins.gw.Query(ctx,
		`SELECT column_name, constraint_name, referenced_table_schema,
			referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
		ORDER BY ordinal_position`, database, table)
	if err != nil {
		return nil, err
	}

	foreignKeys := make([]schema.ForeignKey, 0, len(rows.Records))
	for _, rec := range rows.Records {
		foreignKeys = append(foreignKeys, schema.ForeignKey{
			Column:             gateway.ToString(rec["column_name"]),
			ConstraintName:     gateway.ToString(rec["constraint_name"]),
			ReferencedDatabase: gateway.ToString(rec["referenced_table_schema"]),
			ReferencedTable:    gateway.ToString(rec["referenced_table_name"]),
			ReferencedColumn:   gateway.ToString(rec["referenced_column_name"]),
		})
	}
	return foreignKeys, nil
}

// GetColumnInfo returns one column of one table.
func (ins *Inspector) GetColumnInfo(ctx context.Context, database, table, column string) (*schema.ColumnInfo, error) {
	ts, err := ins.GetTableSchema(ctx, database, table)
	if err != nil {
		return nil, err
	}
	if col := ts.Column(column); col != nil {
		copied := *col
		return &copied, nil
	}
	return nil, &NotFoundError{Kind: "column", Name: database + "." + table + "." + column}
}

// InvalidateDatabase drops every cached entry touching the given
// database and returns how many were removed. Called after a schema
// refresh so stale table metadata never outlives a DDL change.
func (ins *Inspector) InvalidateDatabase(database string) int {
	count := ins.store.InvalidateGlob("tables:database:" + database)
	count += ins.store.InvalidateGlob("schema:database:" + database + ":*")
	if ins.store.Invalidate("databases") {
		count++
	}
	return count
}
