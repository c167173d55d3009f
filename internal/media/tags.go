// Package media extracts attachment markers from worker output and
// enforces the outgoing file policy.
//
// Workers emit [[image:/path|caption]] and [[file:/path|caption]]
// markers in their replies. Markers inside fenced or inline code are
// literal text, and a leading backslash escapes a marker.
package media

import (
	"regexp"
	"strings"
)

// Kind is the marker kind.
type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Tag is one extracted attachment marker.
type Tag struct {
	Kind    Kind
	Path    string
	Caption string
}

var (
	tagPattern        = regexp.MustCompile(`(\\)?\[\[(image|file):([^\]|]+)(?:\|([^\]]*))?\]\]`)
	codeFencePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`\n]*`")
	excessNewlines    = regexp.MustCompile(`\n{3,}`)
)

// splitProtected splits text into segments, marking the ones matched by
// pattern as protected.
func splitProtected(text string, pattern *regexp.Regexp) []segment {
	var segs []segment
	last := 0
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			segs = append(segs, segment{text[last:loc[0]], false})
		}
		segs = append(segs, segment{text[loc[0]:loc[1]], true})
		last = loc[1]
	}
	if last < len(text) {
		segs = append(segs, segment{text[last:], false})
	}
	return segs
}

type segment struct {
	text      string
	protected bool
}

// mapUnprotected applies fn to every part of text outside code fences
// and inline code spans.
func mapUnprotected(text string, fn func(string) string) string {
	var out strings.Builder
	for _, seg := range splitProtected(text, codeFencePattern) {
		if seg.protected {
			out.WriteString(seg.text)
			continue
		}
		for _, inline := range splitProtected(seg.text, inlineCodePattern) {
			if inline.protected {
				out.WriteString(inline.text)
			} else {
				out.WriteString(fn(inline.text))
			}
		}
	}
	return out.String()
}

// collapseExcessNewlines collapses runs of three or more newlines down
// to two, leaving code spans untouched.
func collapseExcessNewlines(text string) string {
	return mapUnprotected(text, func(s string) string {
		return excessNewlines.ReplaceAllString(s, "\n\n")
	})
}

// Extract pulls attachment markers out of text. Markers that fail
// validate stay in the text verbatim so the reader can see what the
// worker tried to send. Escaped markers lose their backslash and stay.
// Returns the cleaned text and the extracted tags in order.
func Extract(text string, validate func(Tag) error) (string, []Tag) {
	var tags []Tag
	removed := false

	clean := mapUnprotected(text, func(s string) string {
		return tagPattern.ReplaceAllStringFunc(s, func(m string) string {
			sub := tagPattern.FindStringSubmatch(m)
			if sub[1] != "" {
				return m[1:]
			}
			tag := Tag{
				Kind:    Kind(sub[2]),
				Path:    strings.TrimSpace(sub[3]),
				Caption: strings.TrimSpace(sub[4]),
			}
			if tag.Path == "" {
				return m
			}
			if validate != nil {
				if err := validate(tag); err != nil {
					return m
				}
			}
			tags = append(tags, tag)
			removed = true
			return ""
		})
	})

	if removed {
		clean = strings.TrimSpace(collapseExcessNewlines(clean))
	}
	return clean, tags
}
