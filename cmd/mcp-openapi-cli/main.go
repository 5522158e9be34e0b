// Command mcp-openapi-cli is offline tooling for OpenAPI documents: it
// writes slimmed documents and prints the tools a namespace would serve.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/openapi"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

const usage = `Usage: mcp-openapi-cli <command> [flags]

Commands:
  slim    write a document reduced to the selected operations
  tools   print the tools generated for the selected operations
  version print version information

Run "mcp-openapi-cli <command> -h" for command flags.
`

// routeList collects -routes values, splitting on commas.
type routeList []string

func (r *routeList) String() string {
	return strings.Join(*r, ",")
}

func (r *routeList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*r = append(*r, part)
		}
	}
	return nil
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "slim":
		err = runSlim(ctx, args[1:], stdout, stderr)
	case "tools":
		err = runTools(ctx, args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "mcp-openapi-cli version %s\n", common.GetFullVersion())
		return 0
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// sourceFlags are shared by every command that reads a document.
type sourceFlags struct {
	file   string
	url    string
	routes routeList
}

func (s *sourceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.file, "f", "", "OpenAPI document file")
	fs.StringVar(&s.url, "u", "", "OpenAPI document URL")
	fs.Var(&s.routes, "routes", "Path selectors, comma separated or repeated (default: all operations)")
}

func (s *sourceFlags) location() (string, error) {
	switch {
	case s.file != "" && s.url != "":
		return "", errors.New("use either -f or -u, not both")
	case s.file != "":
		return openapi.NormalizeLocation(s.file)
	case s.url != "":
		return openapi.NormalizeLocation(s.url)
	default:
		return "", errors.New("one of -f or -u is required")
	}
}

func newStore(logger *common.Logger) *openapi.Store {
	return openapi.NewStore(openapi.NewFetcher(30*time.Second), 0, 0, logger)
}

func runSlim(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("slim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var src sourceFlags
	src.register(fs)
	out := fs.String("o", "", "Output file; .yaml/.yml writes YAML, anything else JSON (default: JSON on stdout)")
	logLevel := fs.String("log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	location, err := src.location()
	if err != nil {
		return err
	}
	sel, err := openapi.NewSelector(src.routes)
	if err != nil {
		return err
	}

	logger := common.NewLoggerWithOutput(*logLevel, stderr)
	store := newStore(logger)
	root, err := store.Get(ctx, location)
	if err != nil {
		return err
	}

	slimmer := openapi.NewSlimmer(openapi.NewResolver(store, logger), logger)
	slim, err := slimmer.Slim(ctx, root.Doc, sel)
	if err != nil {
		return err
	}

	// The written document must stand on its own.
	if dangling := openapi.DanglingRefs(slim); len(dangling) > 0 {
		return fmt.Errorf("slimmed document has unresolved references: %s", strings.Join(dangling, ", "))
	}
	if _, err := store.LoadDocumentSpec(ctx, slim); err != nil {
		return fmt.Errorf("slimmed document does not parse: %w", err)
	}

	format := openapi.FormatJSON
	if *out != "" {
		format = openapi.FormatForPath(*out)
	}
	data, err := openapi.Encode(slim, format)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "wrote %s (%d bytes, source %d bytes)\n", *out, len(data), len(root.Source.Data))
	return nil
}

// toolDefinition is the printed form of one tool.
type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	InputSchema map[string]any `json:"input_schema"`
}

func runTools(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var src sourceFlags
	src.register(fs)
	naming := fs.String("naming", config.NamingPath, "Tool naming: path or operation_id")
	baseURL := fs.String("base-url", "", "Base URL; {placeholders} become tool arguments")
	summary := fs.Bool("summary", false, "Print the inspection summary instead of input schemas")
	logLevel := fs.String("log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	location, err := src.location()
	if err != nil {
		return err
	}

	ns := config.NamespaceConfig{
		Namespace:  "cli",
		URL:        location,
		BaseURL:    *baseURL,
		Paths:      src.routes,
		ToolNaming: *naming,
	}
	if ns.BaseURL == "" {
		ns.BaseURL = "http://localhost"
	}
	if err := ns.Check(); err != nil {
		return err
	}

	logger := common.NewLoggerWithOutput(*logLevel, stderr)
	store := newStore(logger)
	root, err := store.Get(ctx, location)
	if err != nil {
		return err
	}
	spec, err := store.LoadSpec(ctx, root.Doc.ID, root.Source.Data)
	if err != nil {
		return err
	}
	tools, err := registry.NewBuilder(logger).Build(ns, spec)
	if err != nil {
		return err
	}

	var payload any
	if *summary {
		payload = registry.Summaries(tools)
	} else {
		defs := make([]toolDefinition, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, toolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Method:      t.Operation.Method,
				Path:        t.Operation.Path,
				InputSchema: t.InputSchema(),
			})
		}
		payload = defs
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
