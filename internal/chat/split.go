package chat

import "strings"

// SplitMessage splits text into chunks of at most limit bytes,
// preferring to break at a blank line, then a newline, then a space.
// Break characters at the cut are dropped.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut, skip := splitIndex(text, limit)
		chunks = append(chunks, text[:cut])
		text = text[cut+skip:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// splitIndex finds the best break position within limit. Returns the
// cut offset and how many separator bytes to skip.
func splitIndex(text string, limit int) (cut, skip int) {
	window := text[:limit]
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i, 2
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i, 1
	}
	if i := strings.LastIndex(window, " "); i > 0 {
		return i, 1
	}
	return limit, 0
}
