// Package includes finds #include directives in C and C++ sources using the
// tree-sitter C++ grammar, which also accepts plain C.
package includes

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
)

// Directive is one #include found in a source file.
type Directive struct {
	// Literal is the include operand as written, quotes or brackets
	// included.
	Literal string `json:"literal"`
	Target  string `json:"target"`
	System  bool   `json:"system"`
	// Line is 1-based.
	Line int `json:"line"`
}

var sourceExtensions = []string{".c", ".cc", ".cpp", ".cxx", ".h", ".hh", ".hpp", ".hxx", ".inl", ".ipp"}

// Extractor wraps a tree-sitter parser. It is safe for concurrent use.
type Extractor struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func NewExtractor() *Extractor {
	p := sitter.NewParser()
	p.SetLanguage(cpp.GetLanguage())
	return &Extractor{parser: p}
}

// Extensions returns the file extensions the extractor understands.
func (e *Extractor) Extensions() []string {
	return append([]string(nil), sourceExtensions...)
}

// Supports reports whether path looks like a C or C++ source file.
func (e *Extractor) Supports(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Extract returns every include directive in content in source order,
// including ones nested in conditional blocks.
func (e *Extractor) Extract(ctx context.Context, content []byte) ([]Directive, error) {
	e.mu.Lock()
	tree, err := e.parser.ParseCtx(ctx, nil, content)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	directives := make([]Directive, 0)
	collect(tree.RootNode(), content, &directives)
	return directives, nil
}

// At returns the include directive on the given 1-based line.
func (e *Extractor) At(ctx context.Context, content []byte, line int) (Directive, bool, error) {
	directives, err := e.Extract(ctx, content)
	if err != nil {
		return Directive{}, false, err
	}
	for _, directive := range directives {
		if directive.Line == line {
			return directive, true, nil
		}
	}
	return Directive{}, false, nil
}

func collect(node *sitter.Node, content []byte, out *[]Directive) {
	if node == nil {
		return
	}
	if node.Type() == "preproc_include" {
		if directive, ok := directiveFromNode(node, content); ok {
			*out = append(*out, directive)
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collect(node.Child(i), content, out)
	}
}

func directiveFromNode(node *sitter.Node, content []byte) (Directive, bool) {
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		return Directive{}, false
	}

	literal := strings.TrimSpace(pathNode.Content(content))
	directive := Directive{
		Literal: literal,
		Line:    int(node.StartPoint().Row) + 1,
	}
	switch pathNode.Type() {
	case "system_lib_string":
		directive.System = true
		directive.Target = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(literal, "<"), ">"))
	case "string_literal":
		directive.Target = strings.TrimSpace(strings.Trim(literal, `"`))
	default:
		// macro-expanded includes cannot be resolved statically
		return Directive{}, false
	}
	return directive, directive.Target != ""
}
