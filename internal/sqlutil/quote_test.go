package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "my_table", "`my_table`"},
		{"with digits", "t1", "`t1`"},
		{"embedded backtick doubled", "bad`name", "`bad``name`"},
		{"empty", "", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"orders", true},
		{"order_items", true},
		{"Table123", true},
		{"_leading", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{"back`tick", false},
		{"dash-ed", false},
		{"dotted.name", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidIdentifier(tt.input))
		})
	}
}

func TestQuoteIdentifierSafe(t *testing.T) {
	quoted, err := QuoteIdentifierSafe("analytics")
	require.NoError(t, err)
	assert.Equal(t, "`analytics`", quoted)

	_, err = QuoteIdentifierSafe("analytics; DROP TABLE orders")
	require.Error(t, err)

	var invalidErr *InvalidIdentifierError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "analytics; DROP TABLE orders", invalidErr.Name)
}
