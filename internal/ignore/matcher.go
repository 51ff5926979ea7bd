package ignore

import (
	"path"
	"regexp"
	"strings"
)

// DefaultRules hide version control metadata and buck build products.
var DefaultRules = []string{
	".git/",
	".hg/",
	".svn/",
	"buck-out/",
	"buck-cache/",
}

type rule struct {
	source   string
	pattern  *regexp.Regexp
	literal  string
	negated  bool
	dirOnly  bool
	anchored bool
	nested   bool
}

// Matcher applies gitignore-like rules to paths relative to a listing root,
// with "last rule wins" behavior.
type Matcher struct {
	rules []rule
}

// NewMatcher builds a matcher from configured ignore lines. DefaultRules are
// prepended and can be overridden by negation rules.
func NewMatcher(userRules []string) *Matcher {
	all := make([]string, 0, len(DefaultRules)+len(userRules))
	all = append(all, DefaultRules...)
	all = append(all, userRules...)

	rules := make([]rule, 0, len(all))
	for _, line := range all {
		if parsed, ok := parseRule(line); ok {
			rules = append(rules, parsed)
		}
	}
	return &Matcher{rules: rules}
}

// Rules returns the effective rule lines in evaluation order.
func (m *Matcher) Rules() []string {
	out := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.source)
	}
	return out
}

// ShouldIgnore returns true when relPath should be excluded. A file is also
// excluded when any of its parent directories is.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = normalizePath(relPath)
	if relPath == "" {
		return false
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

func parseRule(line string) (rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	parsed := rule{source: line}
	if strings.HasPrefix(line, "!") {
		parsed.negated = true
		line = strings.TrimPrefix(line, "!")
	}
	if strings.HasPrefix(line, "/") {
		parsed.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.HasSuffix(line, "/") {
		parsed.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	line = normalizePath(line)
	if line == "" {
		return rule{}, false
	}
	parsed.literal = line
	parsed.nested = strings.Contains(line, "/")
	parsed.pattern = regexp.MustCompile("^" + globToRegex(line) + "$")
	return parsed, true
}

func (r rule) matches(relPath string, isDir bool) bool {
	if r.dirOnly {
		return r.matchesDirectory(relPath, isDir)
	}
	if r.anchored {
		return r.pattern.MatchString(relPath)
	}
	if r.nested {
		parts := strings.Split(relPath, "/")
		for i := range parts {
			if r.pattern.MatchString(strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}
	for _, segment := range strings.Split(relPath, "/") {
		if r.pattern.MatchString(segment) {
			return true
		}
	}
	return false
}

// matchesDirectory reports whether relPath is, or lies inside, a directory
// named by the rule.
func (r rule) matchesDirectory(relPath string, isDir bool) bool {
	parts := strings.Split(relPath, "/")
	limit := len(parts) - 1
	if isDir {
		limit = len(parts)
	}
	for i := 0; i < limit; i++ {
		prefix := strings.Join(parts[:i+1], "/")
		if r.anchored || r.nested {
			if r.pattern.MatchString(prefix) {
				return true
			}
			continue
		}
		if r.pattern.MatchString(parts[i]) {
			return true
		}
	}
	return false
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]

		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
			continue
		}

		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}

		if strings.ContainsRune(`.+()|[]{}^$\\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
