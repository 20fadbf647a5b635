package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSchemaColumn(t *testing.T) {
	ts := &TableSchema{
		Database: "shop",
		Table:    "orders",
		Columns: []ColumnInfo{
			{Name: "id"},
			{Name: "customer_id"},
		},
	}

	col := ts.Column("customer_id")
	require.NotNil(t, col)
	assert.Equal(t, "customer_id", col.Name)

	// Returned pointer aliases the slice element, so flag updates stick
	col.IsForeignKey = true
	assert.True(t, ts.Columns[1].IsForeignKey)

	assert.Nil(t, ts.Column("ghost"))
}

func TestTableSchemaEmptySlicesSerializeAsArrays(t *testing.T) {
	ts := &TableSchema{
		Database:    "shop",
		Table:       "flags",
		Columns:     []ColumnInfo{{Name: "name", DataType: "varchar"}},
		Indexes:     []IndexInfo{},
		PrimaryKeys: []string{},
		ForeignKeys: []ForeignKey{},
	}

	data, err := json.Marshal(ts)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `"indexes":[]`)
	assert.Contains(t, body, `"primary_keys":[]`)
	assert.Contains(t, body, `"foreign_keys":[]`)
}
