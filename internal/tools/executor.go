package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/retrieval"
)

// Tool names understood by the executor
const (
	ReadFile      = "read_file"
	ListFiles     = "list_files"
	GrepSearch    = "grep_search"
	GetASTSummary = "get_ast_summary"
	Finish        = "finish"
)

// ErrUnknownTool is returned for calls naming a tool that is not registered
var ErrUnknownTool = errors.New("unknown tool")

// ErrOutsideRepo is returned when a path argument escapes the repository root
var ErrOutsideRepo = errors.New("path outside repository")

// DefaultObservationLimit bounds each observation fed back to the model
const DefaultObservationLimit = 3000

// Tool inspects the repository rooted at root
type Tool func(ctx context.Context, root, args string) (string, error)

// Executor runs tool calls against one repository checkout
type Executor struct {
	root  string
	limit int
	tools map[string]Tool
	log   *slog.Logger
}

// NewExecutor creates an executor with the standard tool set
func NewExecutor(root string, observationLimit int) *Executor {
	if observationLimit <= 0 {
		observationLimit = DefaultObservationLimit
	}
	e := &Executor{
		root:  root,
		limit: observationLimit,
		tools: make(map[string]Tool),
		log:   slog.Default().With("component", "tools"),
	}
	e.Register(ReadFile, readFileTool)
	e.Register(ListFiles, listFilesTool)
	e.Register(GrepSearch, grepSearchTool)
	e.Register(GetASTSummary, astSummaryTool)
	return e
}

// Register adds or replaces a tool
func (e *Executor) Register(name string, t Tool) {
	e.tools[name] = t
}

// Names returns the registered tool names plus finish, sorted
func (e *Executor) Names() []string {
	names := []string{Finish}
	for n := range e.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs a call and returns the truncated observation.
// Tool failures are reported inside the observation; they never surface as errors.
func (e *Executor) Execute(ctx context.Context, call Call) string {
	tool, ok := e.tools[call.Name]
	if !ok {
		e.log.Debug("model requested unknown tool", "tool", call.Name)
		return e.truncate(fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name))
	}

	out, err := e.run(ctx, tool, call.Args)
	if err != nil {
		e.log.Debug("tool failed", "tool", call.Name, "args", call.Args, "error", err)
		return e.truncate(fmt.Sprintf("Tool error: %v", err))
	}
	return e.truncate(out)
}

func (e *Executor) run(ctx context.Context, tool Tool, args string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool(ctx, e.root, args)
}

func (e *Executor) truncate(s string) string {
	return domain.Truncate(s, e.limit)
}

// Resolve maps a tool path argument onto the repository, rejecting paths that escape it
func Resolve(root, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	var p string
	if filepath.IsAbs(arg) {
		p = filepath.Clean(arg)
	} else {
		p = filepath.Join(root, arg)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, arg)
	}
	return p, nil
}

const (
	readFileMaxLines = 150
	listFilesMax     = 100
	grepMaxResults   = 30
)

func readFileTool(_ context.Context, root, args string) (string, error) {
	path, err := Resolve(root, args)
	if err != nil {
		return "", err
	}
	return retrieval.ReadFile(path, readFileMaxLines)
}

func listFilesTool(ctx context.Context, root, args string) (string, error) {
	dir, err := Resolve(root, args)
	if err != nil {
		return "", err
	}
	files, truncated, err := retrieval.ListFiles(ctx, dir, retrieval.DefaultExtensions, listFilesMax)
	if err != nil {
		return "", err
	}
	return FormatListing(files, truncated, listFilesMax), nil
}

func grepSearchTool(ctx context.Context, root, args string) (string, error) {
	parts := splitArgs(args, 2)
	dir := root
	if len(parts) > 1 && parts[1] != "" {
		var err error
		if dir, err = Resolve(root, parts[1]); err != nil {
			return "", err
		}
	}
	matches, err := retrieval.GrepSearch(ctx, dir, parts[0], nil, grepMaxResults)
	if err != nil && len(matches) == 0 {
		return "", err
	}
	return retrieval.FormatMatches(matches), nil
}

func astSummaryTool(ctx context.Context, root, args string) (string, error) {
	path, err := Resolve(root, args)
	if err != nil {
		return "", err
	}
	return ASTSummary(ctx, path)
}

// FormatListing renders a file listing the way the list_files tool reports it
func FormatListing(files []string, truncated bool, limit int) string {
	if len(files) == 0 {
		return "(no files found)"
	}
	out := strings.Join(files, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated at %d files)", limit)
	}
	return out
}
