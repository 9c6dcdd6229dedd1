// Package graph persists code structure in Neo4j and answers the
// structural lookups hallucination checking depends on.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lodestone-mcp/lodestone/internal/config"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// upsertBatchSize bounds one UNWIND round trip.
const upsertBatchSize = 100

// Store wraps the Neo4j driver.
type Store struct {
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

// NewStore connects to Neo4j and verifies connectivity.
func NewStore(ctx context.Context, cfg config.GraphConfig, log *slog.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, lserrors.InvalidArgument("NEO4J_URI is not configured")
	}
	if log == nil {
		log = slog.Default()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, lserrors.Unavailable("creating neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, lserrors.Unavailable("neo4j unreachable at "+cfg.URI, err)
	}
	return &Store{driver: driver, log: log}, nil
}

// Init ensures uniqueness constraints. Safe to run repeatedly.
func (s *Store) Init(ctx context.Context) error {
	constraints := []string{
		"CREATE CONSTRAINT repository_name IF NOT EXISTS FOR (r:Repository) REQUIRE r.name IS UNIQUE",
		"CREATE CONSTRAINT class_full_name IF NOT EXISTS FOR (c:Class) REQUIRE c.full_name IS UNIQUE",
		"CREATE CONSTRAINT function_full_name IF NOT EXISTS FOR (f:Function) REQUIRE f.full_name IS UNIQUE",
		"CREATE CONSTRAINT method_id IF NOT EXISTS FOR (m:Method) REQUIRE m.method_id IS UNIQUE",
		"CREATE CONSTRAINT attribute_id IF NOT EXISTS FOR (a:Attribute) REQUIRE a.attr_id IS UNIQUE",
		"CREATE CONSTRAINT parameter_id IF NOT EXISTS FOR (p:Parameter) REQUIRE p.param_id IS UNIQUE",
	}
	for _, stmt := range constraints {
		if err := s.write(ctx, stmt, nil); err != nil {
			return lserrors.Unavailable("creating graph constraints", err)
		}
	}
	return nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// UpsertRepository replaces a repository's stored structure. Existing
// nodes for the repository are removed first so deleted files do not
// linger.
func (s *Store) UpsertRepository(ctx context.Context, repoName string, files []ParsedFile) (*RepoSummary, error) {
	if repoName == "" {
		return nil, lserrors.InvalidArgument("repository name must not be empty")
	}

	if err := s.DeleteRepository(ctx, repoName); err != nil {
		return nil, err
	}
	if err := s.write(ctx, "MERGE (r:Repository {name: $repo})", map[string]any{"repo": repoName}); err != nil {
		return nil, lserrors.Unavailable("creating repository node", err)
	}

	summary := &RepoSummary{Repository: repoName, Files: len(files)}

	for start := 0; start < len(files); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(files) {
			end = len(files)
		}
		if err := s.upsertFileBatch(ctx, repoName, files[start:end], summary); err != nil {
			return nil, err
		}
	}

	s.log.Info("repository stored in graph",
		"repository", repoName,
		"files", summary.Files,
		"classes", summary.Classes,
		"functions", summary.Functions)
	return summary, nil
}

func (s *Store) upsertFileBatch(ctx context.Context, repoName string, files []ParsedFile, summary *RepoSummary) error {
	fileRows := make([]map[string]any, len(files))
	var classRows, methodRows, attrRows, funcRows []map[string]any

	for i, f := range files {
		fileRows[i] = map[string]any{
			"path":       f.Path,
			"module":     f.Module,
			"line_count": f.LineCount,
		}
		for _, c := range f.Classes {
			classRows = append(classRows, map[string]any{
				"path":      f.Path,
				"name":      c.Name,
				"full_name": c.FullName,
			})
			summary.Classes++
			for _, m := range c.Methods {
				methodRows = append(methodRows, map[string]any{
					"class":   c.FullName,
					"id":      c.FullName + "." + m.Name,
					"name":    m.Name,
					"params":  m.Params,
					"returns": m.Returns,
				})
				summary.Methods++
			}
			for _, a := range c.Attributes {
				attrRows = append(attrRows, map[string]any{
					"class": c.FullName,
					"id":    c.FullName + "." + a.Name,
					"name":  a.Name,
					"type":  a.Type,
				})
				summary.Attributes++
			}
		}
		for _, fn := range f.Functions {
			funcRows = append(funcRows, map[string]any{
				"path":      f.Path,
				"name":      fn.Name,
				"full_name": fn.FullName,
				"params":    fn.Params,
				"returns":   fn.Returns,
			})
			summary.Functions++
		}
	}

	steps := []struct {
		cypher string
		params map[string]any
	}{
		{`MATCH (r:Repository {name: $repo})
UNWIND $files AS file
MERGE (f:File {repo: $repo, path: file.path})
SET f.module = file.module, f.line_count = file.line_count
MERGE (r)-[:CONTAINS]->(f)`,
			map[string]any{"repo": repoName, "files": fileRows}},

		{`UNWIND $classes AS class
MATCH (f:File {repo: $repo, path: class.path})
MERGE (c:Class {full_name: class.full_name})
SET c.name = class.name, c.repo = $repo
MERGE (f)-[:DEFINES]->(c)`,
			map[string]any{"repo": repoName, "classes": classRows}},

		{`UNWIND $methods AS row
MATCH (c:Class {full_name: row.class})
MERGE (m:Method {method_id: row.id})
SET m.name = row.name, m.params = row.params, m.returns = row.returns
MERGE (c)-[:HAS_METHOD]->(m)
WITH m, row
UNWIND row.params AS param
MERGE (p:Parameter {param_id: row.id + ':' + param})
SET p.name = param
MERGE (m)-[:HAS_PARAM]->(p)`,
			map[string]any{"methods": methodRows}},

		{`UNWIND $attrs AS row
MATCH (c:Class {full_name: row.class})
MERGE (a:Attribute {attr_id: row.id})
SET a.name = row.name, a.type = row.type
MERGE (c)-[:HAS_ATTRIBUTE]->(a)`,
			map[string]any{"attrs": attrRows}},

		{`UNWIND $functions AS row
MATCH (f:File {repo: $repo, path: row.path})
MERGE (fn:Function {full_name: row.full_name})
SET fn.name = row.name, fn.params = row.params, fn.returns = row.returns, fn.repo = $repo
MERGE (f)-[:DEFINES]->(fn)
WITH fn, row
UNWIND row.params AS param
MERGE (p:Parameter {param_id: row.full_name + ':' + param})
SET p.name = param
MERGE (fn)-[:HAS_PARAM]->(p)`,
			map[string]any{"repo": repoName, "functions": funcRows}},
	}

	for _, step := range steps {
		if err := s.write(ctx, step.cypher, step.params); err != nil {
			return lserrors.Unavailable("upserting repository structure", err)
		}
	}
	return nil
}

// DeleteRepository removes a repository and everything it contains.
func (s *Store) DeleteRepository(ctx context.Context, repoName string) error {
	cypher := `MATCH (r:Repository {name: $repo})
OPTIONAL MATCH (r)-[:CONTAINS]->(f:File)
OPTIONAL MATCH (f)-[:DEFINES]->(d)
OPTIONAL MATCH (d)-[:HAS_METHOD|HAS_ATTRIBUTE]->(member)
OPTIONAL MATCH (member)-[:HAS_PARAM]->(mp:Parameter)
OPTIONAL MATCH (d)-[:HAS_PARAM]->(dp:Parameter)
DETACH DELETE r, f, d, member, mp, dp`
	if err := s.write(ctx, cypher, map[string]any{"repo": repoName}); err != nil {
		return lserrors.Unavailable("deleting repository from graph", err)
	}
	return nil
}

// ListRepositories returns all stored repository names.
func (s *Store) ListRepositories(ctx context.Context) ([]string, error) {
	records, err := s.read(ctx, "MATCH (r:Repository) RETURN r.name AS name ORDER BY name", nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, asString(rec["name"]))
	}
	return names, nil
}

// ListClasses returns the classes of one repository with method counts.
func (s *Store) ListClasses(ctx context.Context, repoName string) ([]map[string]any, error) {
	cypher := `MATCH (:Repository {name: $repo})-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)
OPTIONAL MATCH (c)-[:HAS_METHOD]->(m:Method)
RETURN c.full_name AS class, count(m) AS methods
ORDER BY class`
	return s.read(ctx, cypher, map[string]any{"repo": repoName})
}

// FindClass looks up a class by bare or qualified name.
func (s *Store) FindClass(ctx context.Context, name string) (*ClassRecord, error) {
	cypher := `MATCH (c:Class)
WHERE c.name = $name OR c.full_name = $name
OPTIONAL MATCH (c)-[:HAS_METHOD]->(m:Method)
RETURN c.full_name AS full_name, collect(m.name) AS methods
LIMIT 1`
	records, err := s.read(ctx, cypher, map[string]any{"name": name})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &ClassRecord{
		FullName: asString(records[0]["full_name"]),
		Methods:  asStringSlice(records[0]["methods"]),
	}, nil
}

// FindMethod looks up a method on a class. className may be bare or
// qualified; empty className matches the method on any class.
func (s *Store) FindMethod(ctx context.Context, className, methodName string) (*MethodRecord, error) {
	cypher := `MATCH (c:Class)-[:HAS_METHOD]->(m:Method {name: $method})
WHERE $class = '' OR c.name = $class OR c.full_name = $class
RETURN c.full_name AS class, m.name AS name, m.params AS params, m.returns AS returns
LIMIT 1`
	records, err := s.read(ctx, cypher, map[string]any{"class": className, "method": methodName})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &MethodRecord{
		ClassFullName: asString(records[0]["class"]),
		Name:          asString(records[0]["name"]),
		Params:        asStringSlice(records[0]["params"]),
		Returns:       asString(records[0]["returns"]),
	}, nil
}

// MethodOwners lists classes that define a method of this name, for
// the "exists under a different parent" structural score.
func (s *Store) MethodOwners(ctx context.Context, methodName string) ([]string, error) {
	cypher := `MATCH (c:Class)-[:HAS_METHOD]->(:Method {name: $method})
RETURN DISTINCT c.full_name AS class ORDER BY class`
	records, err := s.read(ctx, cypher, map[string]any{"method": methodName})
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(records))
	for _, rec := range records {
		owners = append(owners, asString(rec["class"]))
	}
	return owners, nil
}

// FindFunction looks up a module-level function.
func (s *Store) FindFunction(ctx context.Context, name string) (*FunctionRecord, error) {
	cypher := `MATCH (f:Function)
WHERE f.name = $name OR f.full_name = $name
RETURN f.full_name AS full_name, f.params AS params, f.returns AS returns
LIMIT 1`
	records, err := s.read(ctx, cypher, map[string]any{"name": name})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &FunctionRecord{
		FullName: asString(records[0]["full_name"]),
		Params:   asStringSlice(records[0]["params"]),
		Returns:  asString(records[0]["returns"]),
	}, nil
}

// HasAttribute reports whether a class defines an attribute. Empty
// className matches the attribute on any class.
func (s *Store) HasAttribute(ctx context.Context, className, attrName string) (bool, error) {
	cypher := `MATCH (c:Class)-[:HAS_ATTRIBUTE]->(a:Attribute {name: $attr})
WHERE $class = '' OR c.name = $class OR c.full_name = $class
RETURN a.name LIMIT 1`
	records, err := s.read(ctx, cypher, map[string]any{"class": className, "attr": attrName})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// HasModule reports whether any stored file provides a module whose
// dotted name starts with the given prefix.
func (s *Store) HasModule(ctx context.Context, module string) (bool, error) {
	cypher := `MATCH (f:File)
WHERE f.module = $module OR f.module STARTS WITH ($module + '.') OR $module STARTS WITH (f.module + '.')
RETURN f.module LIMIT 1`
	records, err := s.read(ctx, cypher, map[string]any{"module": module})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// ClassMemberNames lists method and attribute names of a class, for
// typo suggestions.
func (s *Store) ClassMemberNames(ctx context.Context, className string) ([]string, error) {
	cypher := `MATCH (c:Class)
WHERE c.name = $class OR c.full_name = $class
OPTIONAL MATCH (c)-[:HAS_METHOD]->(m:Method)
OPTIONAL MATCH (c)-[:HAS_ATTRIBUTE]->(a:Attribute)
RETURN collect(DISTINCT m.name) + collect(DISTINCT a.name) AS members`
	records, err := s.read(ctx, cypher, map[string]any{"class": className})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return asStringSlice(records[0]["members"]), nil
}

// Query runs a caller-supplied read-only Cypher statement. Write
// clauses are rejected up front.
func (s *Store) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if err := rejectWriteCypher(cypher); err != nil {
		return nil, err
	}
	return s.read(ctx, cypher, params)
}

// rejectWriteCypher blocks mutating clauses in ad-hoc queries.
func rejectWriteCypher(cypher string) error {
	upper := strings.ToUpper(cypher)
	for _, clause := range []string{"CREATE ", "MERGE ", "DELETE ", "SET ", "REMOVE ", "DROP "} {
		if strings.Contains(upper, clause) {
			return lserrors.InvalidArgument(
				fmt.Sprintf("only read queries are allowed, found %q", strings.TrimSpace(clause)))
		}
	}
	return nil
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return nil, result.Err()
	})
	return err
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(records))
		for i, rec := range records {
			out[i] = rec.AsMap()
		}
		return out, nil
	})
	if err != nil {
		return nil, lserrors.Unavailable("querying graph", err)
	}
	return rows.([]map[string]any), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
