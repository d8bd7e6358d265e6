package stores

import (
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime parses the timestamp formats different sqlite drivers
// hand back for the same column.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// quoteIdent double-quotes an identifier for use in generated SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
