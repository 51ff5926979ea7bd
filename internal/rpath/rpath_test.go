package rpath

import (
	"reflect"
	"testing"
)

func TestClean(t *testing.T) {
	cases := map[string]string{
		"":               "/",
		"/":              "/",
		"/src/":          "/src",
		"src/a.cc":       "/src/a.cc",
		"/src//x/../a.h": "/src/a.h",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/proj", "./src/a.cc"); got != "/proj/src/a.cc" {
		t.Fatalf("unexpected relative resolve: %s", got)
	}
	if got := Resolve("/proj", "/abs/b.h"); got != "/abs/b.h" {
		t.Fatalf("unexpected absolute resolve: %s", got)
	}
}

func TestStemAndExt(t *testing.T) {
	if got := Stem("/src/foo.cpp"); got != "/src/foo" {
		t.Fatalf("unexpected stem %s", got)
	}
	if got := Stem("/src/.hidden"); got != "/src/.hidden" {
		t.Fatalf("dotfile stem should be unchanged, got %s", got)
	}
	if got := Ext("/src/foo.tar.gz"); got != "gz" {
		t.Fatalf("unexpected ext %s", got)
	}
}

func TestRelAndIsUnder(t *testing.T) {
	if !IsUnder("/a/b/c", "/a") || IsUnder("/ab/c", "/a") {
		t.Fatalf("IsUnder must respect path segments")
	}
	rel, ok := Rel("/a", "/a/b/c.h")
	if !ok || rel != "b/c.h" {
		t.Fatalf("unexpected rel %q %v", rel, ok)
	}
	if _, ok := Rel("/x", "/a/b"); ok {
		t.Fatalf("expected Rel outside dir to fail")
	}
	rel, ok = Rel("/", "/a/b")
	if !ok || rel != "a/b" {
		t.Fatalf("unexpected rel from root %q", rel)
	}
}

func TestAncestors(t *testing.T) {
	got := Ancestors("/a/b/c.h")
	want := []string{"/a/b", "/a", "/"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
