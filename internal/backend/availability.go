package backend

import "strings"

// Available returns a comma-separated list of the backends in this build.
func Available() string {
	entries := []string{}
	if Has(Llama) {
		entries = append(entries, Llama)
	}
	entries = append(entries, Toy)
	return strings.Join(entries, ",")
}
