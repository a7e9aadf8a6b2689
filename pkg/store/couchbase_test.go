package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryStatementFiltersByType(t *testing.T) {
	statement, params := queryStatement([]string{"deposit", "withdrawal"}, 1276122000)

	assert.Equal(t, "SELECT RAW e FROM `events` e WHERE e.timestamp_raw > $1 AND e.event_type IN $2 ORDER BY e.timestamp_raw ASC", statement)
	require.Len(t, params, 2)
	assert.Equal(t, int64(1276122000), params[0])
	assert.Equal(t, []string{"deposit", "withdrawal"}, params[1])
}

func TestQueryStatementWildcardDropsTypePredicate(t *testing.T) {
	statement, params := queryStatement([]string{"deposit", "*"}, 0)

	assert.Equal(t, "SELECT RAW e FROM `events` e WHERE e.timestamp_raw > $1 ORDER BY e.timestamp_raw ASC", statement)
	require.Len(t, params, 1)
	assert.Equal(t, int64(0), params[0])
}

func TestContainsWildcard(t *testing.T) {
	assert.True(t, containsWildcard([]string{"*"}))
	assert.True(t, containsWildcard([]string{"deposit", "*"}))
	assert.False(t, containsWildcard([]string{"deposit"}))
	assert.False(t, containsWildcard(nil))
}
