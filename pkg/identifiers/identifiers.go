// Package identifiers pulls decision ids out of free-form submitted text.
package identifiers

import "regexp"

// A decision id is a run of 7 to 9 digits at the start of a line.
var idPattern = regexp.MustCompile(`(?m)^\d{7,9}`)

// Extract returns every line-anchored id in document order. Duplicates are kept.
func Extract(text string) []string {
	ids := idPattern.FindAllString(text, -1)
	if ids == nil {
		return []string{}
	}
	return ids
}

// Distinct returns ids with repeats removed, keeping first-occurrence order.
func Distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
