package exam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPage(t *testing.T) {
	in := []int{1, 2, 3, 4}
	require.Equal(t, in, Page(in, 0, 3))
	require.Equal(t, []int{2, 3}, Page(in, 2, 1))
	require.Equal(t, []int{1}, Page(in, 1, -5))
	require.Empty(t, Page(in, 2, 9))

	clause, args := PageClause([]any{"c1"}, 10, -1)
	require.Equal(t, " LIMIT $2 OFFSET $3", clause)
	require.Equal(t, []any{"c1", 10, 0}, args)

	clause, args = PageClause(nil, 0, 5)
	require.Empty(t, clause)
	require.Empty(t, args)
}
