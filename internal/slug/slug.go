// Package slug derives filesystem-safe names from video titles.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	fallback = "untitled"
	maxLen   = 100
)

// letters that do not decompose into base + combining mark
var foldExtra = strings.NewReplacer("đ", "d", "Đ", "d", "ø", "o", "Ø", "o", "ß", "ss", "æ", "ae", "Æ", "ae", "ł", "l", "Ł", "l")

// Make lowercases the title, strips diacritics and joins alphanumeric runs with hyphens.
func Make(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	folded = foldExtra.Replace(folded)

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	out := b.String()
	if len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	if out == "" {
		return fallback
	}
	return out
}

// Registry hands out slugs that are unique within one task.
type Registry struct {
	used map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{used: make(map[string]struct{})}
}

// Claim reserves the slug for title, appending -1, -2, ... on collision.
func (r *Registry) Claim(title string) string {
	base := Make(title)
	candidate := base
	for counter := 1; ; counter++ {
		if _, taken := r.used[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
	r.used[candidate] = struct{}{}
	return candidate
}
