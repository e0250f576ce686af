package exam

import "strconv"

// Page applies limit/offset to an in-memory result. A limit <= 0 returns
// everything and ignores offset, the same as PageClause.
func Page[T any](in []T, limit, offset int) []T {
	if limit <= 0 {
		return in
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit < len(in) {
		in = in[:limit]
	}
	return in
}

// PageClause appends LIMIT/OFFSET placeholders for a query that already
// carries len(args) arguments.
func PageClause(args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return "", args
	}
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	return " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args)), args
}
