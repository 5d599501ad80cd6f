package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/instructgen/internal/analysis"
	"github.com/lehigh-university-libraries/instructgen/internal/config"
	"github.com/lehigh-university-libraries/instructgen/internal/export"
	"github.com/lehigh-university-libraries/instructgen/internal/gateway"
	"github.com/lehigh-university-libraries/instructgen/internal/media"
	"github.com/lehigh-university-libraries/instructgen/internal/models"
	"github.com/lehigh-university-libraries/instructgen/internal/session"
)

type analyzeOptions struct {
	original    string
	editions    []string
	format      string
	parquetPath string
	provider    string
	model       string
	temperature float64
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Caption an original image and describe how each edition differs",
		Long: `Runs one analysis from the command line.

The original image is captioned first. If that fails the command prints the
ERROR status and exits non-zero. Otherwise each edition is compared to the
original in parallel; an edition that cannot be read, or whose request fails,
gets a fallback message instead of failing the run.

Editions are named edition1, edition2, ... in the order given.`,
		Example: `  # Compare two editions with the default Gemini model
  instructgen analyze --original beach.jpg --edition e1.jpg --edition e2.jpg

  # Use a local Ollama model and write YAML plus a Parquet file
  instructgen analyze --original beach.jpg --edition e1.jpg --provider ollama --format yaml --parquet results.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.original, "original", "", "Path to the original image")
	cmd.Flags().StringArrayVar(&opts.editions, "edition", nil, "Path to an edition image (repeatable)")
	cmd.Flags().StringVar(&opts.format, "format", export.FormatText, "Output format (text, json, or yaml)")
	cmd.Flags().StringVar(&opts.parquetPath, "parquet", "", "Append results to this Parquet file")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider (gemini, openai, or ollama)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model name (defaults to provider's default)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", -1, "Sampling temperature (defaults to $INSTRUCTGEN_TEMPERATURE or 0.4)")
	_ = cmd.MarkFlagRequired("original")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts analyzeOptions) error {
	switch opts.format {
	case export.FormatText, export.FormatJSON, export.FormatYAML:
	default:
		return fmt.Errorf("unsupported format: %s", opts.format)
	}

	cfg, err := loadAnalyzeConfig(opts)
	if err != nil {
		return err
	}

	sess, err := buildSession(opts.original, opts.editions)
	if err != nil {
		return err
	}

	gw, err := gateway.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	_, runErr := analysis.New(gw).Run(cmd.Context(), sess)
	if runErr != nil && !errors.Is(runErr, analysis.ErrAnalysisFailed) {
		// precondition violations never reached the model
		return runErr
	}

	report := export.NewReport(sess.Snapshot(), export.ReportConfig{
		Provider:    gw.Provider(),
		Model:       gw.Model(),
		Temperature: cfg.Temperature,
	})
	if err := export.Write(cmd.OutOrStdout(), report, opts.format); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}

	if opts.parquetPath != "" {
		if err := export.AppendParquet(opts.parquetPath, report); err != nil {
			return err
		}
		slog.Info("Results saved", "path", opts.parquetPath, "editions", len(report.Editions))
	}
	return nil
}

// loadAnalyzeConfig applies flag overrides on top of the environment
func loadAnalyzeConfig(opts analyzeOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.provider != "" && opts.provider != cfg.Provider {
		cfg.Provider = opts.provider
		cfg.Model = config.DefaultModel(opts.provider)
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.temperature >= 0 {
		cfg.Temperature = opts.temperature
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSession loads the images from disk. Editions get ids edition1..N. An
// unreadable original is an error; an unreadable edition is kept without data
// so the run reports the fallback for it.
func buildSession(originalPath string, editionPaths []string) (*session.Session, error) {
	sess := session.New("")

	original, err := media.LoadFile(originalPath, models.OriginalImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load original image: %w", err)
	}
	sess.SetOriginal(original)

	for i, path := range editionPaths {
		id := fmt.Sprintf("edition%d", i+1)
		edition, err := media.LoadFile(path, id)
		if err != nil {
			slog.Warn("Failed to load edition", "edition", i+1, "path", path, "error", err)
			edition = models.UploadedImage{ID: id, Filename: filepath.Base(path)}
		}
		if _, err := sess.AddEdition(edition); err != nil {
			return nil, err
		}
	}
	return sess, nil
}
