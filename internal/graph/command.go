package graph

import (
	"context"
	"strings"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// CommandKind enumerates the knowledge-graph query commands.
type CommandKind string

const (
	CmdRepos   CommandKind = "repos"
	CmdClasses CommandKind = "classes"
	CmdClass   CommandKind = "class"
	CmdMethod  CommandKind = "method"
	CmdCypher  CommandKind = "cypher"
)

// Command is one parsed knowledge-graph command.
type Command struct {
	Kind CommandKind
	// Arg is the repo name, class name, or raw Cypher depending on Kind.
	Arg string
	// Method is set for CmdMethod.
	Method string
}

// CommandResult is the structured answer to a command.
type CommandResult struct {
	Command string           `json:"command"`
	Rows    []map[string]any `json:"rows"`
}

const commandUsage = "supported commands: repos | classes <repo> | class <name> | method <class>.<method> | a read-only Cypher query"

// ParseCommand interprets a knowledge-graph command string.
func ParseCommand(raw string) (Command, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Command{}, lserrors.InvalidArgument("command must not be empty").WithSuggestion(commandUsage)
	}

	fields := strings.Fields(trimmed)
	switch strings.ToLower(fields[0]) {
	case "repos":
		if len(fields) != 1 {
			return Command{}, lserrors.InvalidArgument("repos takes no arguments").WithSuggestion(commandUsage)
		}
		return Command{Kind: CmdRepos}, nil

	case "classes":
		if len(fields) != 2 {
			return Command{}, lserrors.InvalidArgument("usage: classes <repo>").WithSuggestion(commandUsage)
		}
		return Command{Kind: CmdClasses, Arg: fields[1]}, nil

	case "class":
		if len(fields) != 2 {
			return Command{}, lserrors.InvalidArgument("usage: class <name>").WithSuggestion(commandUsage)
		}
		return Command{Kind: CmdClass, Arg: fields[1]}, nil

	case "method":
		switch len(fields) {
		case 2:
			// "method Class.name" form.
			dot := strings.LastIndex(fields[1], ".")
			if dot <= 0 || dot == len(fields[1])-1 {
				return Command{}, lserrors.InvalidArgument("usage: method <class>.<method>").WithSuggestion(commandUsage)
			}
			return Command{Kind: CmdMethod, Arg: fields[1][:dot], Method: fields[1][dot+1:]}, nil
		case 3:
			return Command{Kind: CmdMethod, Arg: fields[1], Method: fields[2]}, nil
		default:
			return Command{}, lserrors.InvalidArgument("usage: method <class>.<method>").WithSuggestion(commandUsage)
		}
	}

	// Raw Cypher passes through when it starts with a read clause.
	switch strings.ToUpper(fields[0]) {
	case "MATCH", "CALL", "RETURN", "WITH", "UNWIND", "OPTIONAL", "SHOW":
		return Command{Kind: CmdCypher, Arg: trimmed}, nil
	}

	return Command{}, lserrors.InvalidArgumentf("unknown command %q", fields[0]).WithSuggestion(commandUsage)
}

// ExecuteCommand parses and runs a knowledge-graph command.
func (s *Store) ExecuteCommand(ctx context.Context, raw string) (*CommandResult, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return nil, err
	}

	result := &CommandResult{Command: strings.TrimSpace(raw)}
	switch cmd.Kind {
	case CmdRepos:
		repos, err := s.ListRepositories(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range repos {
			result.Rows = append(result.Rows, map[string]any{"repository": name})
		}

	case CmdClasses:
		rows, err := s.ListClasses(ctx, cmd.Arg)
		if err != nil {
			return nil, err
		}
		result.Rows = rows

	case CmdClass:
		record, err := s.FindClass(ctx, cmd.Arg)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, lserrors.NotFound("class " + cmd.Arg + " is not in the graph")
		}
		result.Rows = append(result.Rows, map[string]any{
			"class":   record.FullName,
			"methods": record.Methods,
		})

	case CmdMethod:
		record, err := s.FindMethod(ctx, cmd.Arg, cmd.Method)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, lserrors.NotFound("method " + cmd.Arg + "." + cmd.Method + " is not in the graph")
		}
		result.Rows = append(result.Rows, map[string]any{
			"class":   record.ClassFullName,
			"method":  record.Name,
			"params":  record.Params,
			"returns": record.Returns,
		})

	case CmdCypher:
		rows, err := s.Query(ctx, cmd.Arg, nil)
		if err != nil {
			return nil, err
		}
		result.Rows = rows
	}

	return result, nil
}
