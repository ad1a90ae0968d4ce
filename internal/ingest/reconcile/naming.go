package reconcile

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const maxSlugLen = 48

// Slug lowercases s and folds every run of non-alphanumerics into one underscore.
func Slug(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			if b.Len() >= maxSlugLen {
				break
			}
			continue
		}
		pendingSep = true
	}
	return strings.TrimRight(b.String(), "_")
}

// BaseName is the human-readable part of a final key.
func BaseName(suggested, agent string, slot int, role string) string {
	if s := Slug(suggested); s != "" {
		return s
	}
	if s := Slug(fmt.Sprintf("%s_%d_%s", agent, slot, role)); s != "" {
		return s
	}
	return "asset"
}

// FinalKey is folder/base_timestamp_token.ext. The suffix keeps two items that
// propose the same name from colliding.
func FinalKey(folder, base, format string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%s", base, now.UTC().Format("20060102T150405"), shortToken())
	if ext := strings.Trim(strings.ToLower(format), ". "); ext != "" {
		name += "." + ext
	}
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CapTags keeps the first n non-empty tags.
func CapTags(tags []string, n int) []string {
	out := make([]string, 0, n)
	for _, t := range tags {
		if len(out) >= n {
			break
		}
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
