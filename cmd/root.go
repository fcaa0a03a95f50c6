package cmd

import (
	"log/slog"

	"github.com/adalundhe/aligneval/core/config"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	logLevel      string
	configManager = config.NewManager()
)

var rootCmd = &cobra.Command{
	Use:   "aligneval",
	Short: "Evaluate entity-alignment embeddings",
	Long: `aligneval ranks the entities of one knowledge graph embedding against
another and reports mean rank, mean reciprocal rank and hits@k, optionally
after CSLS hubness correction.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "aligneval.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := configManager.Load(configPath); err != nil {
		return err
	}
	cfg := *configManager.Get()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}
