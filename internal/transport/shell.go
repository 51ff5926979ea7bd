package transport

import (
	"sort"
	"strings"
)

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// Expand substitutes {name} placeholders in template with shell-quoted
// values. Unknown placeholders are left untouched.
func Expand(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", Quote(vars[key]))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// InDir prefixes commandLine with a cd into dir.
func InDir(dir, commandLine string) string {
	return "cd " + Quote(dir) + " && " + commandLine
}
