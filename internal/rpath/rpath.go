// Package rpath handles paths on the remote host. Remote paths are always
// slash separated and absolute, so this package wraps path rather than
// path/filepath to stay independent of the local platform.
package rpath

import (
	"path"
	"strings"
)

const Root = "/"

// Clean normalizes p into an absolute slash-separated path without a
// trailing slash. Relative inputs are anchored at "/".
func Clean(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return Root
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Resolve interprets p relative to base unless p is already absolute.
func Resolve(base, p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "/") {
		return Clean(p)
	}
	p = strings.TrimPrefix(p, "./")
	return Clean(path.Join(Clean(base), p))
}

func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

func Dir(p string) string {
	return path.Dir(Clean(p))
}

func Base(p string) string {
	return path.Base(Clean(p))
}

// Ext returns the extension without the leading dot.
func Ext(p string) string {
	ext := path.Ext(Base(p))
	return strings.TrimPrefix(ext, ".")
}

// Stem returns p without its final extension.
func Stem(p string) string {
	p = Clean(p)
	ext := path.Ext(path.Base(p))
	if ext == "" || ext == path.Base(p) {
		return p
	}
	return strings.TrimSuffix(p, ext)
}

// IsUnder reports whether p equals dir or lies below it.
func IsUnder(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == Root || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Rel returns p relative to dir, or false when p is not under dir.
func Rel(dir, p string) (string, bool) {
	p, dir = Clean(p), Clean(dir)
	if !IsUnder(p, dir) {
		return "", false
	}
	if p == dir {
		return ".", true
	}
	if dir == Root {
		return p[1:], true
	}
	return p[len(dir)+1:], true
}

// Ancestors returns the parents of p from the nearest up to "/".
func Ancestors(p string) []string {
	p = Clean(p)
	out := make([]string, 0, strings.Count(p, "/"))
	for p != Root {
		p = path.Dir(p)
		out = append(out, p)
	}
	return out
}
