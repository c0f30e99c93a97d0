// Package naming derives orchestrator-safe stack names from project and
// merge request titles.
package naming

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxStackNameLength mirrors the DNS label limit enforced by container runtimes.
const MaxStackNameLength = 63

var hyphens = regexp.MustCompile(`-+`)

// SanitizeName strips accents, maps path separators to hyphens and drops
// everything that is not an ASCII letter, digit or hyphen.
func SanitizeName(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn))), name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r == '/' || r == '\\' || r == '-':
			b.WriteByte('-')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// BuildStackName joins the sanitized project and merge request names. The
// result starts and ends with a letter or digit.
func BuildStackName(projectName, mrName string) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{SanitizeName(projectName), SanitizeName(mrName)} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	stack := strings.Trim(hyphens.ReplaceAllString(strings.Join(parts, "-"), "-"), "-")
	if len(stack) > MaxStackNameLength {
		stack = strings.TrimRight(stack[:MaxStackNameLength], "-")
	}
	return stack
}
