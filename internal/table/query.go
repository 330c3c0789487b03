// Applies a Condition to a group of rows.

package table

import (
	"context"
	"log/slog"
)

// MatchingPositions returns, in order, the positions of the rows matching c.
//
// A condition without clauses selects every position, deleted rows
// included, without evaluating the rows. Comparison failures are logged
// with the table name and count as non-matches.
func MatchingPositions(ctx context.Context, tableName string, rows []*Entry, c *Condition) []int {
	positions := make([]int, 0, len(rows))
	if c.Len() == 0 {
		for i := range rows {
			positions = append(positions, i)
		}
		return positions
	}
	for i, e := range rows {
		ok, err := c.Match(e)
		if err != nil {
			slog.ErrorContext(ctx, "Compare error", "table", tableName, "err", err)
			continue
		}
		if ok {
			positions = append(positions, i)
		}
	}
	return positions
}
