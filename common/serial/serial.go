// Package serial provides functions for serializing/deserializing common data structures into/from bytes.
package serial

import (
	"fmt"
	"strings"
)

// ToString serializes the given object into string.
func ToString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case *string:
		return *v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Concat concatenates elements into a string.
func Concat(v ...interface{}) string {
	builder := strings.Builder{}
	for _, value := range v {
		builder.WriteString(ToString(value))
	}
	return builder.String()
}
