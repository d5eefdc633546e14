package models

import (
	"fmt"
	"strconv"
)

// Stringify renders a field value in the canonical string form used for
// comparisons and string-typed columns.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
