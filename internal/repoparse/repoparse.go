// Package repoparse clones a git repository and extracts its Python
// code structure for the knowledge graph.
package repoparse

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lodestone-mcp/lodestone/internal/astparse"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/graph"
)

// maxFileBytes skips generated or vendored monsters.
const maxFileBytes = 500_000

// skipDirs are directories never worth parsing.
var skipDirs = map[string]struct{}{
	".git":         {},
	"__pycache__":  {},
	"venv":         {},
	".venv":        {},
	"env":          {},
	"node_modules": {},
	".tox":         {},
	"dist":         {},
	"build":        {},
}

// Parser extracts repository structure.
type Parser struct {
	ast *astparse.Parser
	log *slog.Logger
}

// NewParser creates a repository parser.
func NewParser(log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{ast: astparse.NewParser(), log: log}
}

// Close releases the tree-sitter parser.
func (p *Parser) Close() {
	p.ast.Close()
}

// RepoNameFromURL derives the repository name from a clone URL.
func RepoNameFromURL(repoURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", lserrors.InvalidArgumentf("invalid repository URL %q, expected an http(s) clone URL", repoURL)
	}
	name := strings.TrimSuffix(filepath.Base(u.Path), ".git")
	if name == "" || name == "." || name == "/" {
		return "", lserrors.InvalidArgumentf("repository URL %q has no repository name", repoURL)
	}
	return name, nil
}

// IngestRepository clones the repository at depth 1, parses its Python
// files, and replaces its structure in the graph store.
func (p *Parser) IngestRepository(ctx context.Context, repoURL string, store *graph.Store) (*graph.RepoSummary, error) {
	repoName, err := RepoNameFromURL(repoURL)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "lodestone-repo-*")
	if err != nil {
		return nil, lserrors.Internal("creating temp dir for clone", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := cloneShallow(ctx, repoURL, dir); err != nil {
		return nil, err
	}

	files, err := p.ParseDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	p.log.Info("repository parsed", "repository", repoName, "python_files", len(files))

	return store.UpsertRepository(ctx, repoName, files)
}

func cloneShallow(ctx context.Context, repoURL, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", repoURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return lserrors.DeadlineExceeded("cloning "+repoURL, err)
		}
		return lserrors.Rejected("git clone failed for "+repoURL, err).
			WithDetail("output", tail(string(out), 512)).
			WithSuggestion("check that the repository URL is public and reachable")
	}
	return nil
}

// ParseDirectory walks a checkout and extracts structure from every
// Python file. Unparsable files are skipped with a warning.
func (p *Parser) ParseDirectory(ctx context.Context, root string) ([]graph.ParsedFile, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".py") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, lserrors.Internal("walking repository", err)
	}
	sort.Strings(paths)

	var files []graph.ParsedFile
	for _, path := range paths {
		if ctx.Err() != nil {
			return files, lserrors.DeadlineExceeded("parsing repository", ctx.Err())
		}

		info, err := os.Stat(path)
		if err != nil || info.Size() > maxFileBytes {
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		tree, err := p.ast.Parse(ctx, source, "python")
		if err != nil {
			p.log.Warn("skipping unparsable file", "path", rel, "error", err)
			continue
		}
		files = append(files, ExtractPython(tree, rel))
	}
	return files, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
