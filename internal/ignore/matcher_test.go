package ignore

import "testing"

func TestMatcher_DefaultAndUserOverrides(t *testing.T) {
	m := NewMatcher([]string{
		"third-party/**",
		"!third-party/keep/file.h",
		"*.tmp",
	})

	cases := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{path: ".git/config", isDir: false, ignored: true},
		{path: "buck-out/gen/foo.o", isDir: false, ignored: true},
		{path: "lib/buck-cache/x", isDir: false, ignored: true},
		{path: "third-party/lib/a.cc", isDir: false, ignored: true},
		{path: "third-party/keep/file.h", isDir: false, ignored: false},
		{path: "nested/cache.tmp", isDir: false, ignored: true},
		{path: "src/main.cpp", isDir: false, ignored: false},
		{path: "./src/util.h", isDir: false, ignored: false},
	}

	for _, tc := range cases {
		got := m.ShouldIgnore(tc.path, tc.isDir)
		if got != tc.ignored {
			t.Fatalf("path %s: expected ignored=%v, got %v", tc.path, tc.ignored, got)
		}
	}
}

func TestMatcher_NegatedDirectoryRule(t *testing.T) {
	m := NewMatcher([]string{
		"build/",
		"!build/include/",
	})

	if !m.ShouldIgnore("build/out/file.cc", false) {
		t.Fatalf("expected build/out/file.cc to be ignored")
	}
	if m.ShouldIgnore("build/include/file.h", false) {
		t.Fatalf("expected build/include/file.h to be included")
	}
}

func TestMatcher_DirectoryRuleSkipsFileWithSameName(t *testing.T) {
	m := NewMatcher([]string{"gen/"})
	if m.ShouldIgnore("src/gen", false) {
		t.Fatalf("a file named gen must not match a directory rule")
	}
	if !m.ShouldIgnore("src/gen", true) {
		t.Fatalf("expected directory src/gen to be ignored")
	}
}

func TestMatcher_AnchoredRule(t *testing.T) {
	m := NewMatcher([]string{"/docs"})
	if !m.ShouldIgnore("docs", true) {
		t.Fatalf("expected top-level docs to be ignored")
	}
	if m.ShouldIgnore("src/docs", true) {
		t.Fatalf("anchored rule must not match nested docs")
	}
}

func TestNilMatcherIgnoresNothing(t *testing.T) {
	var m *Matcher
	if m.ShouldIgnore(".git/config", false) {
		t.Fatalf("nil matcher should ignore nothing")
	}
}
