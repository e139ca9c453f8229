package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTables = []string{"deliveries", "delivery_forecast_territory", "business_units"}

func TestGate_ValidateAndNormalize_AcceptsSelect(t *testing.T) {
	gate := NewGate(testTables, 200)

	sql, err := gate.ValidateAndNormalize("SELECT customer, sales FROM deliveries")
	require.NoError(t, err)
	assert.Equal(t, "SELECT customer, sales FROM deliveries LIMIT 200", sql)
}

func TestGate_ValidateAndNormalize_RejectsForbiddenVerbs(t *testing.T) {
	gate := NewGate(testTables, 200)

	for _, sql := range []string{
		"INSERT INTO deliveries VALUES (1)",
		"SELECT 1; DROP TABLE deliveries",
		"SELECT * FROM deliveries WHERE id IN (DELETE FROM deliveries)",
		"UpDaTe deliveries SET sales = 0",
		"SELECT * FROM deliveries; TRUNCATE deliveries",
	} {
		_, err := gate.ValidateAndNormalize(sql)
		require.Error(t, err, "expected %q to be blocked", sql)
		var unsafeErr *UnsafeQueryError
		assert.ErrorAs(t, err, &unsafeErr)
	}
}

func TestGate_ValidateAndNormalize_RejectsNonSelect(t *testing.T) {
	gate := NewGate(testTables, 200)

	_, err := gate.ValidateAndNormalize("SHOW TABLES")
	require.Error(t, err)
	var unsafeErr *UnsafeQueryError
	require.ErrorAs(t, err, &unsafeErr)
	assert.Contains(t, unsafeErr.Reason, "SELECT")
}

func TestGate_ValidateAndNormalize_RejectsMultipleStatements(t *testing.T) {
	gate := NewGate(testTables, 200)

	_, err := gate.ValidateAndNormalize("SELECT 1 FROM deliveries; SELECT 2 FROM deliveries")
	require.Error(t, err)
	var unsafeErr *UnsafeQueryError
	require.ErrorAs(t, err, &unsafeErr)
	assert.Equal(t, "multiple statements", unsafeErr.Reason)
}

func TestGate_ValidateAndNormalize_AllowsTrailingSemicolon(t *testing.T) {
	gate := NewGate(testTables, 200)

	sql, err := gate.ValidateAndNormalize("SELECT customer FROM deliveries;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT customer FROM deliveries LIMIT 200", sql)
}

func TestGate_ValidateAndNormalize_RejectsBlockedSchemas(t *testing.T) {
	gate := NewGate(testTables, 200)

	for _, sql := range []string{
		"SELECT name FROM system.tables WHERE database = 'deliveries'",
		"SELECT * FROM information_schema.columns WHERE table_name = 'deliveries'",
	} {
		_, err := gate.ValidateAndNormalize(sql)
		require.Error(t, err, "expected %q to be blocked", sql)
		var schemaErr *SchemaViolationError
		assert.ErrorAs(t, err, &schemaErr)
	}
}

func TestGate_ValidateAndNormalize_RejectsUnknownTables(t *testing.T) {
	gate := NewGate(testTables, 200)

	_, err := gate.ValidateAndNormalize("SELECT * FROM employees")
	require.Error(t, err)
	var schemaErr *SchemaViolationError
	require.ErrorAs(t, err, &schemaErr)
}

func TestGate_ValidateAndNormalize_EmptyAllowListPermitsAnyTable(t *testing.T) {
	gate := NewGate(nil, 200)

	sql, err := gate.ValidateAndNormalize("SELECT * FROM anything")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM anything LIMIT 200", sql)
}

func TestGate_EnsureLimit_AppendsDefault(t *testing.T) {
	gate := NewGate(testTables, 200)

	assert.Equal(t, "SELECT customer FROM deliveries LIMIT 200",
		gate.EnsureLimit("SELECT customer FROM deliveries"))
}

func TestGate_EnsureLimit_CapsExistingLimit(t *testing.T) {
	gate := NewGate(testTables, 200)

	assert.Equal(t, "SELECT customer FROM deliveries LIMIT 200",
		gate.EnsureLimit("SELECT customer FROM deliveries LIMIT 500"))
}

func TestGate_EnsureLimit_KeepsSmallerLimit(t *testing.T) {
	gate := NewGate(testTables, 200)

	assert.Equal(t, "SELECT customer FROM deliveries LIMIT 50",
		gate.EnsureLimit("SELECT customer FROM deliveries LIMIT 50"))
}

func TestGate_EnsureLimit_SkipsAggregates(t *testing.T) {
	gate := NewGate(testTables, 200)

	for _, sql := range []string{
		"SELECT SUM(sales) FROM deliveries",
		"SELECT count(*) FROM deliveries",
		"SELECT AVG(sales), MIN(sales), MAX(sales) FROM deliveries",
	} {
		assert.Equal(t, sql, gate.EnsureLimit(sql))
	}
}

func TestGate_EnsureLimit_Idempotent(t *testing.T) {
	gate := NewGate(testTables, 200)

	once := gate.EnsureLimit("SELECT customer FROM deliveries LIMIT 500")
	twice := gate.EnsureLimit(once)
	assert.Equal(t, once, twice)
}

func TestGate_ValidateAndNormalize_Idempotent(t *testing.T) {
	gate := NewGate(testTables, 200)

	once, err := gate.ValidateAndNormalize("SELECT customer FROM deliveries LIMIT 500")
	require.NoError(t, err)
	twice, err := gate.ValidateAndNormalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestStripLimit(t *testing.T) {
	assert.Equal(t, "SELECT customer FROM deliveries",
		StripLimit("SELECT customer FROM deliveries LIMIT 200"))
	assert.Equal(t, "SELECT customer FROM deliveries",
		StripLimit("SELECT customer FROM deliveries"))
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sql fence",
			in:   "Here is the query:\n```sql\nSELECT 1 FROM deliveries\n```\nDone.",
			want: "SELECT 1 FROM deliveries",
		},
		{
			name: "label",
			in:   "SQLQuery: SELECT 2 FROM deliveries",
			want: "SELECT 2 FROM deliveries",
		},
		{
			name: "generic fence",
			in:   "```\nSELECT 3 FROM deliveries\n```",
			want: "SELECT 3 FROM deliveries",
		},
		{
			name: "bare",
			in:   "SELECT 4 FROM deliveries",
			want: "SELECT 4 FROM deliveries",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSQL(tt.in))
		})
	}
}
