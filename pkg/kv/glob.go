package kv

import (
	"regexp"
	"strings"
)

// literalPrefix returns the pattern prefix before the first wildcard.
// Badger iterates keys in order, so seeking to this prefix avoids scanning
// the whole keyspace for patterns like "cloud:list:u1:*".
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?")
	if i < 0 {
		return pattern
	}
	return pattern[:i]
}

// compileGlob translates a glob pattern ("*" any run, "?" any single byte)
// into an anchored regexp. Everything else is matched literally.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
