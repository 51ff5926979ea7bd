package includes

import (
	"context"
	"testing"
)

const sample = `// header comment
#include "foo/bar.h"
#include <vector>

#ifdef USE_THREADS
#  include <thread>
#endif

#include CONFIG_HEADER

int main() { return 0; }
`

func TestExtractFindsDirectivesInOrder(t *testing.T) {
	e := NewExtractor()
	directives, err := e.Extract(context.Background(), []byte(sample))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(directives) != 3 {
		t.Fatalf("expected 3 directives, got %#v", directives)
	}

	first := directives[0]
	if first.Target != "foo/bar.h" || first.System || first.Line != 2 || first.Literal != `"foo/bar.h"` {
		t.Fatalf("unexpected first directive %#v", first)
	}
	if directives[1].Target != "vector" || !directives[1].System {
		t.Fatalf("unexpected system directive %#v", directives[1])
	}
	if directives[2].Target != "thread" || directives[2].Line != 6 {
		t.Fatalf("expected nested include on line 6, got %#v", directives[2])
	}
}

func TestAtReturnsDirectiveOnLine(t *testing.T) {
	e := NewExtractor()
	directive, ok, err := e.At(context.Background(), []byte(sample), 3)
	if err != nil || !ok {
		t.Fatalf("expected directive on line 3, got ok=%v err=%v", ok, err)
	}
	if directive.Target != "vector" {
		t.Fatalf("unexpected directive %#v", directive)
	}
	if _, ok, _ := e.At(context.Background(), []byte(sample), 11); ok {
		t.Fatalf("expected no directive on the main line")
	}
}

func TestSupports(t *testing.T) {
	e := NewExtractor()
	for _, path := range []string{"/a/b.cc", "/a/B.HPP", "x.c"} {
		if !e.Supports(path) {
			t.Fatalf("expected %s to be supported", path)
		}
	}
	if e.Supports("/a/README.md") {
		t.Fatalf("expected markdown to be unsupported")
	}
}
