package duckdb

import (
	"fmt"
	"strings"
	"time"
)

// InterpolateQuery substitutes args into query for debug logging. The
// result is not safe to execute.
func InterpolateQuery(query string, args []any) string {
	for _, arg := range args {
		var lit string
		switch v := arg.(type) {
		case string:
			lit = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		case time.Time:
			lit = "'" + v.Format(time.RFC3339Nano) + "'"
		case bool:
			lit = fmt.Sprintf("%t", v)
		case nil:
			lit = "NULL"
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			lit = fmt.Sprint(v)
		default:
			lit = fmt.Sprintf("'%v'", v)
		}
		query = strings.Replace(query, "?", lit, 1)
	}
	return strings.Join(strings.Fields(query), " ")
}
