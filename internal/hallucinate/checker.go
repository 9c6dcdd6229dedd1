// Package hallucinate validates AI-generated Python scripts against the
// knowledge graph and the ingested code examples: every external symbol
// use is scored structurally (does the graph know it?) and semantically
// (do real code examples resemble it?), then fused into a confidence.
package hallucinate

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/lodestone-mcp/lodestone/internal/astparse"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/graph"
	"github.com/lodestone-mcp/lodestone/internal/retrieve"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
)

// Mode selects the validation depth/latency tradeoff.
type Mode string

const (
	// ModeFast runs the graph check and consults embeddings only when
	// the graph is unsure.
	ModeFast Mode = "fast"
	// ModeBalanced runs both channels in parallel.
	ModeBalanced Mode = "balanced"
	// ModeThorough runs sequentially for deterministic output.
	ModeThorough Mode = "thorough"
)

// Confidence fusion weights and classification thresholds.
const (
	structuralWeight = 0.6
	semanticWeight   = 0.4

	validatedThreshold = 0.8
	warningThreshold   = 0.6

	// fastSkipThreshold: in fast mode a structural score at or above
	// this skips the semantic channel.
	fastSkipThreshold = 0.9

	semanticTopK = 5

	cacheSize = 512
	cacheTTL  = time.Hour

	maxSuggestions = 3
	maxScriptBytes = 1 << 20
)

// Category classifies one finding.
type Category string

const (
	CategoryValidated Category = "validated"
	CategoryWarning   Category = "warning"
	CategoryCritical  Category = "critical"
)

// Finding is the validation result for one symbol use.
type Finding struct {
	Line            int        `json:"line"`
	Kind            SymbolKind `json:"kind"`
	Name            string     `json:"name"`
	Confidence      float64    `json:"confidence"`
	Category        Category   `json:"category"`
	ActualSignature string     `json:"actual_signature,omitempty"`
	Suggestions     []string   `json:"suggestions,omitempty"`
}

// Report is the whole-script validation result.
type Report struct {
	ScriptPath string    `json:"script_path"`
	Findings   []Finding `json:"findings"`
	// Risk is 1 - mean confidence; 0 for a script with no symbol uses.
	Risk      float64 `json:"overall_risk"`
	Validated int     `json:"validated"`
	Warnings  int     `json:"warnings"`
	Critical  int     `json:"critical"`
}

// GraphLookup is the slice of the graph store the checker needs.
// *graph.Store implements it.
type GraphLookup interface {
	HasModule(ctx context.Context, module string) (bool, error)
	FindClass(ctx context.Context, name string) (*graph.ClassRecord, error)
	FindMethod(ctx context.Context, className, methodName string) (*graph.MethodRecord, error)
	FindFunction(ctx context.Context, name string) (*graph.FunctionRecord, error)
	HasAttribute(ctx context.Context, className, attrName string) (bool, error)
	MethodOwners(ctx context.Context, methodName string) ([]string, error)
	ClassMemberNames(ctx context.Context, className string) ([]string, error)
}

var _ GraphLookup = (*graph.Store)(nil)

// structuralResult is the cacheable outcome of one graph check.
type structuralResult struct {
	score       float64
	signature   string
	suggestions []string
}

// Checker validates scripts.
type Checker struct {
	graph    GraphLookup
	store    vectorstore.Store
	embedder embed.Embedder
	reranker retrieve.Reranker
	parser   *astparse.Parser
	cache    *expirable.LRU[string, structuralResult]
	log      *slog.Logger
}

// NewChecker wires the checker. store and embedder power the semantic
// channel.
func NewChecker(g GraphLookup, store vectorstore.Store, embedder embed.Embedder, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		graph:    g,
		store:    store,
		embedder: embedder,
		parser:   astparse.NewParser(),
		cache:    expirable.NewLRU[string, structuralResult](cacheSize, nil, cacheTTL),
		log:      log,
	}
}

// WithReranker enables cross-encoder snippet selection in thorough
// mode.
func (c *Checker) WithReranker(r retrieve.Reranker) *Checker {
	c.reranker = r
	return c
}

// Close releases the parser.
func (c *Checker) Close() {
	c.parser.Close()
}

// CheckScript validates the script at path.
func (c *Checker) CheckScript(ctx context.Context, scriptPath string, mode Mode) (*Report, error) {
	if mode == "" {
		mode = ModeBalanced
	}
	switch mode {
	case ModeFast, ModeBalanced, ModeThorough:
	default:
		return nil, lserrors.InvalidArgumentf("unknown validation mode %q", mode)
	}

	if !strings.HasSuffix(scriptPath, ".py") {
		return nil, lserrors.InvalidArgument("only Python scripts are supported").
			WithDetail("path", scriptPath)
	}
	info, err := os.Stat(scriptPath)
	if err != nil {
		return nil, lserrors.NotFound("script not found: " + scriptPath)
	}
	if info.Size() > maxScriptBytes {
		return nil, lserrors.InvalidArgumentf("script exceeds %d bytes", maxScriptBytes)
	}
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, lserrors.Internal("reading script", err)
	}

	tree, err := c.parser.Parse(ctx, source, "python")
	if err != nil {
		return nil, err
	}
	uses := EnumerateSymbols(tree)

	report := &Report{ScriptPath: filepath.Clean(scriptPath)}
	if len(uses) == 0 {
		return report, nil
	}

	findings := make([]Finding, len(uses))
	if mode == ModeBalanced {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for i, use := range uses {
			g.Go(func() error {
				findings[i] = c.checkSymbol(gctx, use, mode)
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return nil, lserrors.DeadlineExceeded("validating script", ctx.Err())
		}
	} else {
		for i, use := range uses {
			if ctx.Err() != nil {
				return nil, lserrors.DeadlineExceeded("validating script", ctx.Err())
			}
			findings[i] = c.checkSymbol(ctx, use, mode)
		}
	}

	report.Findings = findings
	var total float64
	for _, f := range findings {
		total += f.Confidence
		switch f.Category {
		case CategoryValidated:
			report.Validated++
		case CategoryWarning:
			report.Warnings++
		case CategoryCritical:
			report.Critical++
		}
	}
	report.Risk = clamp01(1 - total/float64(len(findings)))
	return report, nil
}

func (c *Checker) checkSymbol(ctx context.Context, use SymbolUse, mode Mode) Finding {
	structural := c.structuralCheck(ctx, use)

	var semantic float64
	switch {
	case mode == ModeFast && structural.score >= fastSkipThreshold:
		// Graph is confident enough; count the channel as agreeing.
		semantic = structural.score
	default:
		semantic = c.semanticCheck(ctx, use, mode)
	}

	confidence := clamp01(structuralWeight*structural.score + semanticWeight*semantic)

	finding := Finding{
		Line:            use.Line,
		Kind:            use.Kind,
		Name:            use.Name,
		Confidence:      confidence,
		Category:        classify(confidence),
		ActualSignature: structural.signature,
	}
	if finding.Category != CategoryValidated {
		finding.Suggestions = structural.suggestions
	}
	return finding
}

func classify(confidence float64) Category {
	switch {
	case confidence >= validatedThreshold:
		return CategoryValidated
	case confidence >= warningThreshold:
		return CategoryWarning
	default:
		return CategoryCritical
	}
}

// structuralCheck scores a symbol against the graph: 1.0 exact, 0.6
// exists with a disagreeing parameter set, 0.3 name exists under a
// different parent, 0.0 unknown.
func (c *Checker) structuralCheck(ctx context.Context, use SymbolUse) structuralResult {
	key := string(use.Kind) + "\x00" + use.Name
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	var result structuralResult
	switch use.Kind {
	case KindImport:
		result = c.checkImport(ctx, use)
	case KindClassConstruct:
		result = c.checkConstruct(ctx, use)
	case KindMethodCall:
		result = c.checkMethodCall(ctx, use)
	case KindFunctionCall:
		result = c.checkFunctionCall(ctx, use)
	case KindAttributeAccess:
		result = c.checkAttributeAccess(ctx, use)
	}

	c.cache.Add(key, result)
	return result
}

func (c *Checker) checkImport(ctx context.Context, use SymbolUse) structuralResult {
	known, err := c.graph.HasModule(ctx, use.Name)
	if err != nil {
		c.log.Warn("graph lookup failed", "symbol", use.Name, "error", err)
		return structuralResult{}
	}
	if known {
		return structuralResult{score: 1.0}
	}
	return structuralResult{}
}

func (c *Checker) checkConstruct(ctx context.Context, use SymbolUse) structuralResult {
	className := lastSegment(use.Name)
	class, err := c.graph.FindClass(ctx, className)
	if err != nil {
		c.log.Warn("graph lookup failed", "symbol", use.Name, "error", err)
		return structuralResult{}
	}
	if class != nil {
		init, _ := c.graph.FindMethod(ctx, class.FullName, "__init__")
		if init == nil || use.ArgCount < 0 || argsCompatible(use.ArgCount, init.Params) {
			return structuralResult{score: 1.0, signature: signature(class.FullName, paramsOf(init))}
		}
		return structuralResult{
			score:     0.6,
			signature: signature(class.FullName, init.Params),
		}
	}
	// Same name as a known function: probably a casing or kind mixup.
	if fn, _ := c.graph.FindFunction(ctx, className); fn != nil {
		return structuralResult{score: 0.3, signature: signature(fn.FullName, fn.Params)}
	}
	return structuralResult{}
}

func (c *Checker) checkMethodCall(ctx context.Context, use SymbolUse) structuralResult {
	method, err := c.graph.FindMethod(ctx, use.Receiver, use.Member)
	if err != nil {
		c.log.Warn("graph lookup failed", "symbol", use.Name, "error", err)
		return structuralResult{}
	}
	if method != nil {
		sig := signature(method.ClassFullName+"."+method.Name, method.Params)
		if use.ArgCount < 0 || argsCompatible(use.ArgCount, method.Params) {
			return structuralResult{score: 1.0, signature: sig}
		}
		return structuralResult{score: 0.6, signature: sig}
	}

	// Method exists on some other class.
	owners, _ := c.graph.MethodOwners(ctx, use.Member)
	if len(owners) > 0 {
		return structuralResult{
			score:       0.3,
			suggestions: prefixAll(owners[:minInt(len(owners), maxSuggestions)], "."+use.Member),
		}
	}
	return structuralResult{suggestions: c.suggestMembers(ctx, use.Receiver, use.Member)}
}

func (c *Checker) checkFunctionCall(ctx context.Context, use SymbolUse) structuralResult {
	fn, err := c.graph.FindFunction(ctx, use.Member)
	if err != nil {
		c.log.Warn("graph lookup failed", "symbol", use.Name, "error", err)
		return structuralResult{}
	}
	if fn != nil {
		sig := signature(fn.FullName, fn.Params)
		if use.ArgCount < 0 || argsCompatible(use.ArgCount, fn.Params) {
			return structuralResult{score: 1.0, signature: sig}
		}
		return structuralResult{score: 0.6, signature: sig}
	}
	if owners, _ := c.graph.MethodOwners(ctx, use.Member); len(owners) > 0 {
		return structuralResult{
			score:       0.3,
			suggestions: prefixAll(owners[:minInt(len(owners), maxSuggestions)], "."+use.Member),
		}
	}
	return structuralResult{}
}

func (c *Checker) checkAttributeAccess(ctx context.Context, use SymbolUse) structuralResult {
	has, err := c.graph.HasAttribute(ctx, use.Receiver, use.Member)
	if err != nil {
		c.log.Warn("graph lookup failed", "symbol", use.Name, "error", err)
		return structuralResult{}
	}
	if has {
		return structuralResult{score: 1.0}
	}
	// The name might be a method used without parentheses.
	if method, _ := c.graph.FindMethod(ctx, use.Receiver, use.Member); method != nil {
		return structuralResult{
			score:     0.6,
			signature: signature(method.ClassFullName+"."+method.Name, method.Params),
		}
	}
	if has, _ := c.graph.HasAttribute(ctx, "", use.Member); has {
		return structuralResult{score: 0.3}
	}
	return structuralResult{suggestions: c.suggestMembers(ctx, use.Receiver, use.Member)}
}

// suggestMembers offers a class's real members ranked by edit distance
// to the hallucinated name. Distance orders the list but never filters
// it; an invented name far from every member still gets the nearest
// ones back.
func (c *Checker) suggestMembers(ctx context.Context, className, wanted string) []string {
	if className == "" {
		return nil
	}
	members, err := c.graph.ClassMemberNames(ctx, className)
	if err != nil || len(members) == 0 {
		return nil
	}

	type ranked struct {
		name string
		dist int
	}
	candidates := make([]ranked, 0, len(members))
	for _, m := range members {
		candidates = append(candidates, ranked{m, editDistance(wanted, m)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})

	n := minInt(len(candidates), maxSuggestions)
	out := make([]string, 0, n)
	for _, cand := range candidates[:n] {
		out = append(out, className+"."+cand.name)
	}
	return out
}

// semanticCheck embeds the symbol with its source line and takes the
// best similarity among the top code-example hits. Thorough mode lets
// the cross-encoder pick which hit counts instead of trusting raw
// cosine order.
func (c *Checker) semanticCheck(ctx context.Context, use SymbolUse, mode Mode) float64 {
	if c.store == nil || c.embedder == nil {
		return 0
	}
	text := use.Name
	if use.Context != "" {
		text += "\n" + use.Context
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.log.Warn("semantic check embedding failed", "symbol", use.Name, "error", err)
		return 0
	}
	hits, err := c.store.SearchCodeExamples(ctx, vec, semanticTopK, nil)
	if err != nil {
		c.log.Warn("semantic check search failed", "symbol", use.Name, "error", err)
		return 0
	}
	if len(hits) == 0 {
		return 0
	}

	if mode == ModeThorough && c.reranker != nil {
		documents := make([]string, len(hits))
		for i, hit := range hits {
			documents[i] = hit.Content
		}
		if scores, err := c.reranker.Rerank(ctx, text, documents); err == nil {
			bestIdx := 0
			for i, score := range scores {
				if score > scores[bestIdx] {
					bestIdx = i
				}
			}
			return clamp01(hits[bestIdx].Score)
		}
	}

	best := 0.0
	for _, hit := range hits {
		best = math.Max(best, hit.Score)
	}
	return clamp01(best)
}

func argsCompatible(argCount int, params []string) bool {
	fixed := 0
	for _, p := range params {
		if strings.HasPrefix(p, "*") {
			// Splat parameters absorb anything beyond the fixed ones.
			return true
		}
		fixed++
	}
	// Without default-value information, accept any count up to the
	// declared parameter total.
	return argCount <= fixed
}

func signature(name string, params []string) string {
	return name + "(" + strings.Join(params, ", ") + ")"
}

func paramsOf(m *graph.MethodRecord) []string {
	if m == nil {
		return nil
	}
	return m.Params
}

func prefixAll(names []string, suffix string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + suffix
	}
	return out
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(minInt(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
