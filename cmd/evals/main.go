// Command evals runs eval definitions against the composed assistant.
//
// Usage:
//
//	evals list --dir evals --tags orders
//	evals tags
//	evals run --tags smoke
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-firehose/agentchat/internal/config"
	"github.com/skywalker-firehose/agentchat/internal/evals"
	"github.com/skywalker-firehose/agentchat/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	List ListCmd `cmd:"" help:"List eval definitions."`
	Tags TagsCmd `cmd:"" help:"List the tags used by eval definitions."`
	Run  RunCmd  `cmd:"" help:"Run eval definitions and print a summary."`

	Dir     string `help:"Eval definitions directory (defaults to EVALS_DIR)." type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging."`
}

func (c *CLI) dir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return config.Load().Evals.Dir
}

// ListCmd lists definitions, optionally filtered by tag.
type ListCmd struct {
	Tags []string `help:"Only definitions carrying any of these tags." sep:","`
}

func (c *ListCmd) Run(cli *CLI) error {
	defs, err := evals.LoadDir(cli.dir())
	if err != nil {
		return err
	}
	for _, d := range evals.FilterByTags(defs, c.Tags) {
		fmt.Printf("%-32s %v\n", d.Name, d.Tags)
	}
	return nil
}

// TagsCmd lists the distinct tags.
type TagsCmd struct{}

func (c *TagsCmd) Run(cli *CLI) error {
	defs, err := evals.LoadDir(cli.dir())
	if err != nil {
		return err
	}
	for _, t := range evals.Tags(defs) {
		fmt.Println(t)
	}
	return nil
}

// RunCmd runs definitions and fails when any of them fails.
type RunCmd struct {
	Tags []string `help:"Only run definitions carrying any of these tags." sep:","`
	JSON bool     `help:"Print results as JSON."`
}

var errEvalsFailed = errors.New("evals failed")

func (c *RunCmd) Run(cli *CLI) error {
	defs, err := evals.LoadDir(cli.dir())
	if err != nil {
		return err
	}
	defs = evals.FilterByTags(defs, c.Tags)
	if len(defs) == 0 {
		log.Warn().Strs("tags", c.Tags).Msg("No evals matched")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.ShutdownFunc(context.Background())

	results := srv.Evaluator.RunAll(ctx, defs)
	summary := evals.Summarize(results)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"data": results, "summary": summary}); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			mark := "PASS"
			if !r.Passed {
				mark = "FAIL"
			}
			fmt.Printf("%s  %-32s %dms\n", mark, r.Name, r.DurationMs)
			for _, a := range r.AssertionResults {
				if !a.Passed {
					fmt.Printf("      - %s: %s\n", a.Type, a.Error)
				}
			}
			if r.Error != "" {
				fmt.Printf("      ! %s\n", r.Error)
			}
		}
		fmt.Printf("\n%d/%d passed\n", summary.Passed, summary.Total)
	}

	if summary.Failed > 0 {
		return errEvalsFailed
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := config.LoadEnvFiles(); err != nil {
		log.Warn().Err(err).Msg("Failed to load env files")
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("evals"),
		kong.Description("Run agent chat eval definitions."),
		kong.UsageOnError(),
	)
	if cli.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
