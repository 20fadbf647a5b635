// Package schema defines the metadata objects served by the inspector.
// All objects are immutable snapshots: a cache refresh replaces them
// wholesale rather than mutating in place.
package schema

// DatabaseInfo describes one database visible to the service account.
type DatabaseInfo struct {
	Name       string `json:"name"`
	Charset    string `json:"charset"`
	Collation  string `json:"collation"`
	TableCount int64  `json:"table_count,omitempty"`
}

// TableInfo describes one table or view. Tables are associated with
// their database by name, not by pointer; lookups key on
// (database, table).
type TableInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "table" or "view"
	RowEstimate int64  `json:"row_estimate"`
	SizeBytes   int64  `json:"size_bytes"`
	Comment     string `json:"comment,omitempty"`
}

// ColumnInfo describes one column. The slice order in TableSchema
// reflects declaration order.
type ColumnInfo struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`
	MaxLength       int64  `json:"max_length,omitempty"`
	IsNullable      bool   `json:"is_nullable"`
	DefaultValue    string `json:"default_value,omitempty"`
	Comment         string `json:"comment,omitempty"`
	IsPrimaryKey    bool   `json:"is_primary_key"`
	IsForeignKey    bool   `json:"is_foreign_key"`
	IsAutoIncrement bool   `json:"is_auto_increment"`
}

// IndexInfo describes one index with its columns in index order.
type IndexInfo struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	IsUnique bool     `json:"is_unique"`
	Type     string   `json:"index_type"`
}

// ForeignKey describes one foreign-key column and its target.
type ForeignKey struct {
	Column             string `json:"column"`
	ConstraintName     string `json:"constraint_name"`
	ReferencedDatabase string `json:"referenced_database"`
	ReferencedTable    string `json:"referenced_table"`
	ReferencedColumn   string `json:"referenced_column"`
}

// TableSchema is the merged view of one table's columns, indexes, and
// key constraints. Every name in PrimaryKeys and ForeignKeys refers to
// a column present in Columns. Slices are always non-nil, so a table
// with no indexes serializes as [] rather than null.
type TableSchema struct {
	Database    string       `json:"database"`
	Table       string       `json:"table"`
	Columns     []ColumnInfo `json:"columns"`
	Indexes     []IndexInfo  `json:"indexes"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Column looks up a column by name. Returns nil if absent.
func (s *TableSchema) Column(name string) *ColumnInfo {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}
