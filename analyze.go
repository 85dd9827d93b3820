package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	title   string
	legacy  bool
	offline bool
}

func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a PDF or DOCX contract and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var completer service.Completer
			if !opts.offline {
				completer = buildModel(cmd.Context(), cfg)
			}
			analyzer, err := service.NewAnalyzer(service.AnalyzerDeps{
				Extractor:      service.NewExtractor(),
				Model:          completer,
				Repo:           service.NewMemoryStore(0),
				Timeout:        cfg.Analysis.Timeout(),
				MaxUploadBytes: cfg.Analysis.MaxUploadBytes(),
				MaxPromptChars: cfg.Analysis.MaxPromptChars,
			})
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), analyzer, args[0], data, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "contract title, defaults to the file name")
	cmd.Flags().BoolVar(&opts.legacy, "legacy", false, "print the legacy flat analysis shape")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "skip the model and use the rule-based analyzer")
	return cmd
}

func runAnalyze(ctx context.Context, analyzer *service.Analyzer, path string, data []byte, opts *analyzeOptions, w io.Writer) error {
	out, err := analyzer.Analyze(ctx, service.Upload{
		UserID:   "cli",
		Title:    opts.title,
		FileName: filepath.Base(path),
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("analyze %s: %w", path, err)
	}
	slog.Debug("analysis finished", "file", path, "source", out.Source)

	var v any = out.Analysis
	if opts.legacy {
		v = model.ToLegacy(out.Analysis)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
