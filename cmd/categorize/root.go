package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/marketplace-categorizer/internal/bootstrap"
	"github.com/kirillkom/marketplace-categorizer/internal/config"
	"github.com/kirillkom/marketplace-categorizer/internal/observability/logging"
)

type rootOptions struct {
	dataDir  string
	logLevel string

	stdin  io.Reader
	stdout io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdin: os.Stdin, stdout: stdout}

	root := &cobra.Command{
		Use:           "categorize",
		Short:         "Map products to marketplace categories",
		Long:          "Inspect loaded marketplace taxonomies, preview heuristic shortlists and classify products from the command line.",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logging.NewJSONLoggerTo(stderr, "categorize", opts.logLevel))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory holding marketplaces.yaml, taxonomies/ and prompts/ (default $DATA_DIR)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newMarketplacesCmd(opts),
		newLeavesCmd(opts),
		newShortlistCmd(opts),
		newClassifyCmd(opts),
		newSubmitCmd(opts),
	)
	return root
}

// config returns the environment configuration with --data-dir applied.
func (o *rootOptions) config() config.Config {
	cfg := config.Load()
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
		cfg.MarketplacesFile = filepath.Join(o.dataDir, "marketplaces.yaml")
		cfg.PromptFile = filepath.Join(o.dataDir, "prompts", "category_prompt.md")
	}
	return cfg
}

func (o *rootOptions) loadApp(ctx context.Context) (*bootstrap.App, error) {
	app, err := bootstrap.New(ctx, o.config(), nil)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// readProduct reads a product JSON object from path, or from stdin for "-".
func (o *rootOptions) readProduct(path string) (map[string]any, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(o.stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read product: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var product map[string]any
	if err := dec.Decode(&product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", path, err)
	}
	if product == nil {
		return nil, fmt.Errorf("product %s is empty", path)
	}
	return product, nil
}

func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
