package chat

import "strings"

// specificKeywords mark a question as detailed enough to answer without
// asking the user for more context.
var specificKeywords = []string{
	"semester", "full-time", "part-time", "paid", "unpaid",
	"first", "second", "final", "graduate", "credit", "course",
}

// IsVague reports whether query lacks every specificity keyword. Matching is
// case-insensitive substring matching, so "graduated" counts as "graduate".
func IsVague(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range specificKeywords {
		if strings.Contains(q, kw) {
			return false
		}
	}
	return true
}

// MergeClarification appends the user's clarification to the original
// question.
func MergeClarification(query, clarification string) string {
	return strings.TrimSpace(query + " " + clarification)
}
