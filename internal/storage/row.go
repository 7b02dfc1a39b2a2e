package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one table row keyed by column name. Values read back from the
// database are whatever the driver produced (int64, float64, string, []byte,
// time.Time or nil), so entity mappers should go through the typed accessors.
type Row map[string]any

// Get returns the raw value of a column. Column names match case-insensitively,
// as they do in SQLite.
func (r Row) Get(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether the column is present and not NULL.
func (r Row) Has(name string) bool {
	v, ok := r.Get(name)
	return ok && v != nil
}

// String returns the column as a string; missing or NULL gives "".
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

// Int64 returns the column as an integer; missing, NULL or unparsable gives 0.
func (r Row) Int64(name string) int64 {
	v, _ := r.Get(name)
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		return n
	case time.Time:
		return val.UnixMilli()
	default:
		return 0
	}
}

// Float64 returns the column as a float; missing, NULL or unparsable gives 0.
func (r Row) Float64(name string) float64 {
	v, _ := r.Get(name)
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		return f
	default:
		return float64(r.Int64(name))
	}
}

// Bool returns the column as a boolean (non-zero integers are true).
func (r Row) Bool(name string) bool {
	v, _ := r.Get(name)
	if b, ok := v.(bool); ok {
		return b
	}
	return r.Int64(name) != 0
}

// Time reads a column stored as Unix milliseconds. The zero time is returned
// for missing or NULL values.
func (r Row) Time(name string) time.Time {
	v, _ := r.Get(name)
	switch val := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return val
	default:
		return time.UnixMilli(r.Int64(name))
	}
}

// columns returns the row's column names in a stable order.
func (r Row) columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// quoteIdent quotes a table or column name for use in SQL text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
