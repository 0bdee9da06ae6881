package cache

import (
	"fmt"
	"strings"
)

// Key joins parts with ':' into a cache key.
func Key(parts ...interface{}) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// Pattern matches every key below prefix.
func Pattern(prefix string) string {
	return prefix + ":*"
}
