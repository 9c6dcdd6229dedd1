package repoparse

import (
	"strings"

	"github.com/lodestone-mcp/lodestone/internal/astparse"
	"github.com/lodestone-mcp/lodestone/internal/graph"
)

// ExtractPython converts a parsed Python file into graph structure.
// relPath is repository-relative with forward slashes.
func ExtractPython(tree *astparse.Tree, relPath string) graph.ParsedFile {
	module := moduleName(relPath)
	file := graph.ParsedFile{
		Path:      relPath,
		Module:    module,
		LineCount: int(tree.Root.EndPoint.Row) + 1,
	}

	for _, node := range topLevelDefinitions(tree.Root) {
		switch node.Type {
		case "class_definition":
			file.Classes = append(file.Classes, extractClass(node, tree.Source, module))
		case "function_definition":
			name := identifierOf(node, tree.Source)
			if name == "" {
				continue
			}
			file.Functions = append(file.Functions, graph.Function{
				Name:     name,
				FullName: qualify(module, name),
				Params:   parameterNames(node, tree.Source, false),
				Returns:  returnType(node, tree.Source),
			})
		}
	}
	return file
}

// moduleName maps "pkg/sub/mod.py" to "pkg.sub.mod"; package __init__
// files name the package itself.
func moduleName(relPath string) string {
	path := strings.TrimSuffix(relPath, ".py")
	path = strings.TrimSuffix(path, "/__init__")
	if path == "__init__" {
		return ""
	}
	return strings.ReplaceAll(path, "/", ".")
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// topLevelDefinitions yields module-level class and function nodes,
// looking through decorators.
func topLevelDefinitions(root *astparse.Node) []*astparse.Node {
	var defs []*astparse.Node
	for _, child := range root.Children {
		node := child
		if node.Type == "decorated_definition" {
			if inner := node.ChildByType("class_definition"); inner != nil {
				node = inner
			} else if inner := node.ChildByType("function_definition"); inner != nil {
				node = inner
			}
		}
		if node.Type == "class_definition" || node.Type == "function_definition" {
			defs = append(defs, node)
		}
	}
	return defs
}

func extractClass(node *astparse.Node, source []byte, module string) graph.Class {
	name := identifierOf(node, source)
	class := graph.Class{
		Name:     name,
		FullName: qualify(module, name),
	}

	body := node.ChildByType("block")
	if body == nil {
		return class
	}

	seenAttrs := make(map[string]struct{})
	for _, child := range body.Children {
		member := child
		if member.Type == "decorated_definition" {
			if inner := member.ChildByType("function_definition"); inner != nil {
				member = inner
			}
		}
		switch member.Type {
		case "function_definition":
			methodName := identifierOf(member, source)
			if methodName == "" {
				continue
			}
			class.Methods = append(class.Methods, graph.Method{
				Name:    methodName,
				Params:  parameterNames(member, source, true),
				Returns: returnType(member, source),
			})
			if methodName == "__init__" {
				collectSelfAttributes(member, source, &class, seenAttrs)
			}
		case "expression_statement":
			// Class-body annotated attributes: "name: Type" or "name = value".
			collectClassBodyAttribute(member, source, &class, seenAttrs)
		}
	}
	return class
}

// identifierOf returns the name of a class or function definition.
func identifierOf(node *astparse.Node, source []byte) string {
	if ident := node.ChildByType("identifier"); ident != nil {
		return ident.Content(source)
	}
	return ""
}

// parameterNames lists parameter names in order. For methods, the
// leading self/cls receiver is dropped.
func parameterNames(fn *astparse.Node, source []byte, method bool) []string {
	params := fn.ChildByType("parameters")
	if params == nil {
		return nil
	}

	var names []string
	for _, child := range params.Children {
		var name string
		switch child.Type {
		case "identifier":
			name = child.Content(source)
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if ident := child.ChildByType("identifier"); ident != nil {
				name = ident.Content(source)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if ident := child.ChildByType("identifier"); ident != nil {
				name = "*" + ident.Content(source)
			}
		}
		if name == "" {
			continue
		}
		if method && len(names) == 0 && (name == "self" || name == "cls") {
			method = false // receiver consumed
			continue
		}
		names = append(names, name)
	}
	return names
}

// returnType returns the annotated return type, empty when absent.
func returnType(fn *astparse.Node, source []byte) string {
	if t := fn.ChildByType("type"); t != nil {
		return t.Content(source)
	}
	return ""
}

// collectSelfAttributes harvests "self.x = ..." assignments from a
// constructor body.
func collectSelfAttributes(initFn *astparse.Node, source []byte, class *graph.Class, seen map[string]struct{}) {
	body := initFn.ChildByType("block")
	if body == nil {
		return
	}
	for _, assign := range body.AllByType("assignment") {
		if len(assign.Children) == 0 {
			continue
		}
		left := assign.Children[0]
		if left.Type != "attribute" || len(left.Children) < 3 {
			continue
		}
		object := left.Children[0]
		attr := left.Children[len(left.Children)-1]
		if object.Content(source) != "self" || attr.Type != "identifier" {
			continue
		}
		name := attr.Content(source)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		class.Attributes = append(class.Attributes, graph.Attribute{
			Name: name,
			Type: annotationOf(assign, source),
		})
	}
}

// collectClassBodyAttribute handles "x: Type = value" directly in the
// class body.
func collectClassBodyAttribute(stmt *astparse.Node, source []byte, class *graph.Class, seen map[string]struct{}) {
	assign := stmt.ChildByType("assignment")
	if assign == nil || len(assign.Children) == 0 {
		return
	}
	left := assign.Children[0]
	if left.Type != "identifier" {
		return
	}
	name := left.Content(source)
	if _, dup := seen[name]; dup {
		return
	}
	seen[name] = struct{}{}
	class.Attributes = append(class.Attributes, graph.Attribute{
		Name: name,
		Type: annotationOf(assign, source),
	})
}

// annotationOf returns the type annotation of an assignment, if any.
func annotationOf(assign *astparse.Node, source []byte) string {
	if t := assign.ChildByType("type"); t != nil {
		return t.Content(source)
	}
	return ""
}
