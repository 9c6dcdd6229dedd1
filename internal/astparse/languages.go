package astparse

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps language names and file extensions to
// tree-sitter grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the supported grammars:
// python (primary validation target), go, javascript, typescript.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.register("python", python.GetLanguage(), ".py")
	r.register("go", golang.GetLanguage(), ".go")
	r.register("javascript", javascript.GetLanguage(), ".js", ".mjs", ".jsx")
	r.register("typescript", typescript.GetLanguage(), ".ts")

	return r
}

func (r *LanguageRegistry) register(name string, lang *sitter.Language, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tsLanguages[name] = lang
	for _, ext := range exts {
		r.extToLang[ext] = name
	}
}

// TreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) TreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// LanguageForExtension returns the language name for a file extension.
func (r *LanguageRegistry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	lang, ok := r.extToLang[ext]
	return lang, ok
}

// SupportedExtensions lists all registered extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
