package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/mnemo/internal"
	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/freshness"
	"github.com/starford/mnemo/internal/mcpserver"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
	pkgconfig "github.com/starford/mnemo/pkg/config"
)

// exitError carries a process exit code out of a command action.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

// inputError marks validation and unknown-project failures as usage errors
// and leaves everything else as is.
func inputError(err error) error {
	if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
		return &exitError{code: 1, err: err}
	}
	return err
}

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// cliLogger logs to stderr so stdout stays machine-readable.
func cliLogger(cfg *internal.Config) *slog.Logger {
	logger := internal.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func openRuntime(cmd *cli.Command, readOnly bool) (*internal.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.NewRuntime(cfg, cliLogger(cfg), internal.RuntimeOptions{ReadOnly: readOnly})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func limitFlag(def int64) *cli.IntFlag {
	return &cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum results", Value: def}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Keyword search across all projects",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "files, functions or observations", Value: "files"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Restrict to one project"},
			&cli.StringFlag{Name: "category", Usage: "Observation category"},
			limitFlag(20),
			&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, err := search.ParseKind(cmd.String("type"))
			if err != nil {
				return inputError(err)
			}
			req := search.Request{
				Query:     strings.Join(cmd.Args().Slice(), " "),
				Kind:      kind,
				ProjectID: cmd.String("project"),
				Category:  models.Category(cmd.String("category")),
				Limit:     int(cmd.Int("limit")),
			}

			rt, err := openRuntime(cmd, true)
			if errors.Is(err, apperr.ErrStoreUnavailable) {
				slog.Warn("search: index not built yet", slog.String("error", err.Error()))
				return printSearch(cmd, search.Response{Kind: kind, Query: req.Query, Results: []any{}})
			}
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.Service.Search(ctx, req)
			if err != nil {
				return inputError(err)
			}
			return printSearch(cmd, resp)
		},
	}
}

func printSearch(cmd *cli.Command, resp search.Response) error {
	if cmd.Bool("json") {
		return writeJSON(os.Stdout, resp)
	}
	if resp.Count == 0 {
		fmt.Println("no results")
		return nil
	}
	// Human output reuses the JSON shape of each hit.
	raw, err := json.Marshal(resp.Results)
	if err != nil {
		return err
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		switch resp.Kind {
		case search.KindFunctions:
			fmt.Printf("%v\t%v:%v\t%v\n", r["project_id"], r["file_path"], r["line_number"], r["name"])
		case search.KindObservations:
			fmt.Printf("[%v] %v\t%v\n", r["category"], r["project_id"], r["text"])
		default:
			fmt.Printf("%v\t%v\t%v\n", r["project_id"], r["path"], r["summary"])
		}
	}
	return nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Apply a project's source document to both indexes",
		ArgsUsage: "<projectId> [filePath]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full", Usage: "Rebuild both indexes from scratch"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 {
				return usageError("sync: project id is required")
			}
			rt, err := openRuntime(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.Service.Sync(ctx, service.SyncInput{
				ProjectID: cmd.Args().Get(0),
				Path:      cmd.Args().Get(1),
				Full:      cmd.Bool("full"),
			})
			if err != nil {
				return inputError(err)
			}
			return writeJSON(os.Stdout, rep)
		},
	}
}

// freshnessCommand always exits 0 once its arguments parse: an unreadable config
// or store is reported inside the snapshot as a full-rebuild reason.
func freshnessCommand() *cli.Command {
	return &cli.Command{
		Name:      "freshness",
		Usage:     "Check whether a project's indexes lag its source tree",
		ArgsUsage: "<projectPath> <projectId>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return usageError("freshness: project path and project id are required")
			}
			in := freshness.Input{ProjectID: cmd.Args().Get(1), RootPath: cmd.Args().Get(0)}
			cfg, err := loadConfig(cmd)
			if err != nil {
				cliLogger(internal.NewDefaultConfig()).Warn("freshness: config unreadable", slog.String("error", err.Error()))
				return writeJSON(os.Stdout, freshness.Unchecked(in.ProjectID, time.Now(), "configuration unreadable"))
			}
			logger := cliLogger(cfg)
			snap, err := internal.CheckFreshness(ctx, cfg, logger, in)
			if err != nil {
				logger.Warn("freshness: check interrupted", slog.String("error", err.Error()))
			}
			return writeJSON(os.Stdout, snap)
		},
	}
}

func similarCommand() *cli.Command {
	return &cli.Command{
		Name:      "similar",
		Usage:     "List files semantically similar to a file",
		ArgsUsage: "<projectId> <path>",
		Flags:     []cli.Flag{limitFlag(10)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return usageError("similar: project id and path are required")
			}
			rt, err := openRuntime(cmd, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			hits, err := rt.Service.Similar(ctx, cmd.Args().Get(0), cmd.Args().Get(1), int(cmd.Int("limit")))
			if err != nil {
				return inputError(err)
			}
			return writeJSON(os.Stdout, hits)
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Semantic search within one project",
		ArgsUsage: "<projectId> <text>",
		Flags:     []cli.Flag{limitFlag(10)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return usageError("ask: project id and text are required")
			}
			rt, err := openRuntime(cmd, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			text := strings.Join(cmd.Args().Slice()[1:], " ")
			hits, err := rt.Service.Semantic(ctx, cmd.Args().Get(0), text, int(cmd.Int("limit")))
			if err != nil {
				return inputError(err)
			}
			return writeJSON(os.Stdout, hits)
		},
	}
}

func observeCommand() *cli.Command {
	return &cli.Command{
		Name:      "observe",
		Usage:     "Record an observation",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project id; omit for a global observation"},
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id"},
			&cli.StringFlag{Name: "category", Usage: "Category; inferred when omitted"},
			&cli.StringSliceFlag{Name: "file", Aliases: []string{"f"}, Usage: "Related file path (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			o, err := rt.Service.Observe(ctx, service.ObserveInput{
				ProjectID: cmd.String("project"),
				SessionID: cmd.String("session"),
				Category:  cmd.String("category"),
				Text:      strings.Join(cmd.Args().Slice(), " "),
				Files:     cmd.StringSlice("file"),
			})
			if err != nil {
				return inputError(err)
			}
			return writeJSON(os.Stdout, o)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with the source watcher and freshness scheduler",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Service.MirrorProjects(ctx); err != nil {
				return err
			}
			return mcpserver.New(rt.Service, version).ServeStdio()
		},
	}
}
