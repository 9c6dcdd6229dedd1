package graph

// ParsedFile is one source file's extracted structure, ready for graph
// upsert.
type ParsedFile struct {
	// Path is repository-relative.
	Path string
	// Module is the dotted module name derived from the path.
	Module string
	// LineCount of the file.
	LineCount int

	Classes   []Class
	Functions []Function
}

// Class is a class definition with its members.
type Class struct {
	// Name is the bare class name.
	Name string
	// FullName is module-qualified, e.g. "pkg.module.ClassName".
	FullName string

	Methods    []Method
	Attributes []Attribute
}

// Method is one method of a class.
type Method struct {
	Name string
	// Params are parameter names in order, excluding the receiver.
	Params []string
	// Returns is the annotated return type, empty when absent.
	Returns string
}

// Attribute is a class attribute assigned in the class body or
// constructor.
type Attribute struct {
	Name string
	// Type is the annotated type, empty when absent.
	Type string
}

// Function is a module-level function.
type Function struct {
	Name     string
	FullName string
	Params   []string
	Returns  string
}

// ClassRecord is a structural lookup result.
type ClassRecord struct {
	FullName string
	Methods  []string
}

// MethodRecord is a structural lookup result for one method.
type MethodRecord struct {
	ClassFullName string
	Name          string
	Params        []string
	Returns       string
}

// FunctionRecord is a structural lookup result for one function.
type FunctionRecord struct {
	FullName string
	Params   []string
	Returns  string
}

// RepoSummary aggregates what was stored for one repository.
type RepoSummary struct {
	Repository string `json:"repository"`
	Files      int    `json:"files"`
	Classes    int    `json:"classes"`
	Methods    int    `json:"methods"`
	Functions  int    `json:"functions"`
	Attributes int    `json:"attributes"`
}
