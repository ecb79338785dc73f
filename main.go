package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/aktagon/news-digest/internal/config"
	"github.com/aktagon/news-digest/internal/store"
	"github.com/spf13/cobra"
)

var (
	apiKey       string
	settingsPath string
	promptsDir   string
	outputDir    string
	runDate      string
	debugMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "news-digest",
	Short: "Layered news analysis from a list of source pages",
	Long: `Discovers articles on each source page, captures and extracts them, and writes
per-source and combined digests and essays under a dated artifact tree.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [sources-file]",
	Short: "Run every stage for every source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get sources file path
		sourcesFile := "sources.yaml"
		if len(args) > 0 {
			sourcesFile = args[0]
		}

		if err := validateDate(runDate); err != nil {
			return err
		}

		processor, err := newProcessor(cmd.Context())
		if err != nil {
			return err
		}
		defer processor.Close()

		report, err := processor.ProcessSources(cmd.Context(), sourcesFile, runDate)
		if err != nil {
			return err
		}
		fmt.Print(renderSummary(report))
		return report.Err
	},
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <phase> <dir>",
	Short: "Re-run one phase against existing artifacts",
	Long: `Phases: extract-only, source-digest and source-essay take a <root>/<date>/<source>
directory; combined-digest and combined-essay take a <root>/<date> directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		processor, err := newProcessor(cmd.Context())
		if err != nil {
			return err
		}
		defer processor.Close()

		phase, result, err := processor.Rerun(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Print(renderStage(phase, result))
		return nil
	},
}

// newProcessor resolves the API key and config overrides from flags.
func newProcessor(ctx context.Context) (*Processor, error) {
	// Get API key
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return NewProcessor(ctx, apiKey, buildOverrides(), debugMode)
}

// validateDate accepts an empty date, meaning today.
func validateDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(store.DateLayout, date); err != nil {
		return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
	}
	return nil
}

func buildOverrides() *config.ConfigOverrides {
	overrides := &config.ConfigOverrides{}
	if settingsPath != "" {
		overrides.SettingsPath = &settingsPath
	}
	if promptsDir != "" {
		overrides.PromptsDir = &promptsDir
	}
	if outputDir != "" {
		overrides.OutputDir = &outputDir
	}
	return overrides
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Anthropic API key")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to a settings.yaml file")
	rootCmd.PersistentFlags().StringVar(&promptsDir, "prompts", "", "Directory with custom prompt templates")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "Artifact root directory")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	runCmd.Flags().StringVar(&runDate, "date", "", "Run-date (YYYY-MM-DD), defaults to today")

	rootCmd.AddCommand(runCmd, rerunCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("✗ %v", err)
		os.Exit(1)
	}
}
