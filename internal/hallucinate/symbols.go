package hallucinate

import (
	"strings"
	"unicode"

	"github.com/lodestone-mcp/lodestone/internal/astparse"
)

// SymbolKind classifies one external symbol use in a script.
type SymbolKind string

const (
	KindImport          SymbolKind = "import"
	KindClassConstruct  SymbolKind = "class-construct"
	KindMethodCall      SymbolKind = "method-call"
	KindFunctionCall    SymbolKind = "function-call"
	KindAttributeAccess SymbolKind = "attribute-access"
)

// SymbolUse is one symbol occurrence to validate.
type SymbolUse struct {
	Kind SymbolKind
	// Name is the symbol as written, qualified where resolvable
	// ("Client.request", "os.path").
	Name string
	// Receiver is the resolved class or module for member uses.
	Receiver string
	// Member is the bare member name for method calls and attribute
	// accesses.
	Member string
	// Line is 1-based in the script.
	Line int
	// Context is the source line the use appears on.
	Context string
	// ArgCount counts call arguments, -1 for non-calls.
	ArgCount int
}

// pythonBuiltins are never validated; flagging print() as a
// hallucination helps nobody.
var pythonBuiltins = map[string]struct{}{
	"print": {}, "len": {}, "range": {}, "str": {}, "int": {}, "float": {},
	"list": {}, "dict": {}, "set": {}, "tuple": {}, "open": {}, "isinstance": {},
	"enumerate": {}, "zip": {}, "map": {}, "filter": {}, "sorted": {}, "sum": {},
	"min": {}, "max": {}, "abs": {}, "type": {}, "super": {}, "getattr": {},
	"setattr": {}, "hasattr": {}, "repr": {}, "format": {}, "input": {}, "next": {},
	"iter": {}, "vars": {}, "dir": {}, "id": {}, "hash": {}, "round": {},
	"any": {}, "all": {}, "bool": {}, "bytes": {}, "issubclass": {},
	"Exception": {}, "ValueError": {}, "TypeError": {}, "KeyError": {},
	"RuntimeError": {}, "AttributeError": {}, "NotImplementedError": {}, "StopIteration": {},
}

// EnumerateSymbols walks a parsed Python script and lists every
// external symbol use worth validating.
func EnumerateSymbols(tree *astparse.Tree) []SymbolUse {
	source := tree.Source
	lines := strings.Split(string(source), "\n")
	lineAt := func(n *astparse.Node) string {
		row := int(n.StartPoint.Row)
		if row < len(lines) {
			return strings.TrimSpace(lines[row])
		}
		return ""
	}

	var uses []SymbolUse

	// Imports, plus alias maps for resolving later member uses.
	moduleAliases := make(map[string]string) // local name -> module
	importedNames := make(map[string]string) // local name -> module.name
	for _, imp := range tree.Root.AllByType("import_statement") {
		for _, child := range imp.Children {
			switch child.Type {
			case "dotted_name":
				module := child.Content(source)
				moduleAliases[module] = module
				moduleAliases[firstSegment(module)] = firstSegment(module)
				uses = append(uses, SymbolUse{
					Kind: KindImport, Name: module, Line: imp.Line(), Context: lineAt(imp), ArgCount: -1,
				})
			case "aliased_import":
				dotted := child.ChildByType("dotted_name")
				alias := lastChildByType(child, "identifier")
				if dotted == nil || alias == nil {
					continue
				}
				module := dotted.Content(source)
				moduleAliases[alias.Content(source)] = module
				uses = append(uses, SymbolUse{
					Kind: KindImport, Name: module, Line: imp.Line(), Context: lineAt(imp), ArgCount: -1,
				})
			}
		}
	}
	for _, imp := range tree.Root.AllByType("import_from_statement") {
		dotted := imp.ChildByType("dotted_name")
		if dotted == nil {
			continue
		}
		module := dotted.Content(source)
		uses = append(uses, SymbolUse{
			Kind: KindImport, Name: module, Line: imp.Line(), Context: lineAt(imp), ArgCount: -1,
		})
		// Imported names after the module: "from mod import A, B as C".
		seenModule := false
		for _, child := range imp.Children {
			switch child.Type {
			case "dotted_name":
				if !seenModule {
					seenModule = true
					continue
				}
				name := child.Content(source)
				importedNames[name] = module + "." + name
			case "aliased_import":
				name := child.ChildByType("dotted_name")
				alias := lastChildByType(child, "identifier")
				if name != nil && alias != nil {
					importedNames[alias.Content(source)] = module + "." + name.Content(source)
				}
			}
		}
	}

	// Variable -> class map from "x = ClassName(...)" assignments.
	varClass := make(map[string]string)
	for _, assign := range tree.Root.AllByType("assignment") {
		if len(assign.Children) == 0 {
			continue
		}
		left := assign.Children[0]
		call := assign.ChildByType("call")
		if left.Type != "identifier" || call == nil || len(call.Children) == 0 {
			continue
		}
		fn := call.Children[0]
		if fn.Type == "identifier" && startsUpper(fn.Content(source)) {
			varClass[left.Content(source)] = fn.Content(source)
		}
		if fn.Type == "attribute" {
			if attr := memberOf(fn, source); startsUpper(attr) {
				varClass[left.Content(source)] = attr
			}
		}
	}

	// Calls. Attribute nodes serving as call targets are remembered so
	// the attribute pass below skips them.
	callTargets := make(map[*astparse.Node]struct{})
	for _, call := range tree.Root.AllByType("call") {
		if len(call.Children) == 0 {
			continue
		}
		fn := call.Children[0]
		argCount := countArguments(call)

		switch fn.Type {
		case "identifier":
			name := fn.Content(source)
			if _, builtin := pythonBuiltins[name]; builtin {
				continue
			}
			use := SymbolUse{
				Name: name, Line: call.Line(), Context: lineAt(call), ArgCount: argCount,
			}
			if qualified, ok := importedNames[name]; ok {
				use.Name = qualified
				use.Member = lastSegment(qualified)
			} else {
				use.Member = name
			}
			if startsUpper(lastSegment(use.Name)) {
				use.Kind = KindClassConstruct
			} else {
				use.Kind = KindFunctionCall
			}
			uses = append(uses, use)

		case "attribute":
			callTargets[fn] = struct{}{}
			object, member := objectAndMember(fn, source)
			if object == "" || member == "" || object == "self" {
				continue
			}
			use := SymbolUse{
				Kind: KindMethodCall, Member: member,
				Line: call.Line(), Context: lineAt(call), ArgCount: argCount,
			}
			switch {
			case varClass[object] != "":
				use.Receiver = varClass[object]
				use.Name = use.Receiver + "." + member
			case moduleAliases[object] != "":
				use.Receiver = moduleAliases[object]
				use.Name = use.Receiver + "." + member
				use.Kind = KindFunctionCall
			default:
				use.Receiver = object
				use.Name = object + "." + member
			}
			if startsUpper(member) {
				use.Kind = KindClassConstruct
			}
			uses = append(uses, use)
		}
	}

	// Bare attribute accesses on known class instances.
	for _, attr := range tree.Root.AllByType("attribute") {
		if _, isCall := callTargets[attr]; isCall {
			continue
		}
		object, member := objectAndMember(attr, source)
		if object == "" || member == "" || object == "self" {
			continue
		}
		class, known := varClass[object]
		if !known {
			continue
		}
		// Nested attributes of a call target ("c.session.get") resolve
		// through the same variable map and stay one level deep here.
		uses = append(uses, SymbolUse{
			Kind: KindAttributeAccess, Receiver: class, Member: member,
			Name: class + "." + member, Line: attr.Line(), Context: lineAt(attr), ArgCount: -1,
		})
	}

	return uses
}

func countArguments(call *astparse.Node) int {
	args := call.ChildByType("argument_list")
	if args == nil {
		return 0
	}
	n := 0
	for _, child := range args.Children {
		switch child.Type {
		case "(", ")", ",", "comment":
		default:
			n++
		}
	}
	return n
}

// objectAndMember splits "obj.member" when the object is a plain
// identifier. Deeper chains resolve their innermost identifier.
func objectAndMember(attr *astparse.Node, source []byte) (string, string) {
	if len(attr.Children) < 3 {
		return "", ""
	}
	object := attr.Children[0]
	member := attr.Children[len(attr.Children)-1]
	if member.Type != "identifier" {
		return "", ""
	}
	switch object.Type {
	case "identifier":
		return object.Content(source), member.Content(source)
	case "call":
		// Chained off a call result: "Client(...).request". Use the
		// called name as receiver when it looks like a class.
		if len(object.Children) > 0 && object.Children[0].Type == "identifier" {
			return object.Children[0].Content(source), member.Content(source)
		}
	}
	return "", ""
}

func memberOf(attr *astparse.Node, source []byte) string {
	if len(attr.Children) == 0 {
		return ""
	}
	last := attr.Children[len(attr.Children)-1]
	if last.Type != "identifier" {
		return ""
	}
	return last.Content(source)
}

func lastChildByType(n *astparse.Node, nodeType string) *astparse.Node {
	var found *astparse.Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			found = child
		}
	}
	return found
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func firstSegment(s string) string {
	if i := strings.Index(s, "."); i > 0 {
		return s[:i]
	}
	return s
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}
