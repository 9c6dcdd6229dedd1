// Package astparse wraps tree-sitter parsing behind a plain node tree.
// The repository parser and the script validator both consume it: one to
// extract code structure into the knowledge graph, the other to
// enumerate symbol uses in a target script.
package astparse

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// Point is a row/column position in the source (0-indexed).
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a plain-Go view of one tree-sitter node. The converted tree
// has no cgo lifetime attached, so it can outlive the parser.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Tree is a parsed source file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Parser parses source code for the registered languages.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser with the default language registry.
func NewParser() *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: DefaultRegistry(),
	}
}

// Parse parses source code in the named language.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.TreeSitterLanguage(language)
	if !ok {
		return nil, lserrors.InvalidArgumentf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, lserrors.Internal("parsing source", err)
	}
	if tsTree == nil {
		return nil, lserrors.Internal("parsing source: nil tree", nil)
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// ParseFile parses source using the language registered for the file
// extension.
func (p *Parser) ParseFile(ctx context.Context, source []byte, ext string) (*Tree, error) {
	lang, ok := p.registry.LanguageForExtension(ext)
	if !ok {
		return nil, lserrors.InvalidArgumentf("unsupported file extension: %s", ext)
	}
	return p.Parse(ctx, source, lang)
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}

	return node
}

// Content returns the source text this node spans.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// Line returns the 1-based line number the node starts on.
func (n *Node) Line() int {
	return int(n.StartPoint.Row) + 1
}

// ChildByType returns the first direct child with the given type.
func (n *Node) ChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// ChildrenByType returns all direct children with the given type.
func (n *Node) ChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// AllByType recursively collects nodes with the given type, including
// the receiver.
func (n *Node) AllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.AllByType(nodeType)...)
	}
	return result
}

// Walk traverses depth-first; returning false from fn prunes the
// subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
