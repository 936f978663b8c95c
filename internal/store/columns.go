package store

import "strings"

// joinColumns renders a column list for the RETURNING clause of an INSERT.
func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
