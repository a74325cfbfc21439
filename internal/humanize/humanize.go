// Package humanize is like dustin/go-humanize.
package humanize

import "fmt"

// SI is like dustin/go-humanize.SI but its implementation is
// tailored for printing packet rates and byte counts in logs.
func SI(value float64, unit string) string {
	value, prefix := reduce(value)
	return fmt.Sprintf("%.2f %s%s", value, prefix, unit)
}

// Bytes formats a byte count, e.g., Bytes(2500) returns "2.50 kB".
func Bytes(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d B", n)
	}
	return SI(float64(n), "B")
}

// reduce reduces value to a base value and a unit prefix. For
// example, reduce(1055) returns (1.055, "k").
func reduce(value float64) (float64, string) {
	if value < 1e03 {
		return value, ""
	}
	value /= 1e03
	if value < 1e03 {
		return value, "k"
	}
	value /= 1e03
	if value < 1e03 {
		return value, "M"
	}
	value /= 1e03
	return value, "G"
}
