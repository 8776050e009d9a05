package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"
)

// Version is set at build time with -ldflags
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool

	// cfg and logger are populated in PersistentPreRunE
	cfg    *model.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Convergence - hypothesis ledger for aging research",
	Long: `Convergence keeps a ledger of aging-research hypotheses and how much
independent evidence backs each one.

Evidence arrives as observational, perturbation or clinical items. Each item
moves one prong score of one claim; the sum of the three prongs places the
claim in a tier (Provisional, Emerging, Evidence-Backed, Cornerstone).
Material evidence on both sides of a prong puts the claim under contest.

Convergence counts evidence. It does not decide what is true.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command. Cancelling ctx stops a running batch
// between items.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of Convergence.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "convergence %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.convergence/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("db", "", "ledger database path (overrides store.path)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// configDir is where config init writes and where the config is searched
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error finding home directory: %w", err)
	}
	return filepath.Join(home, ".convergence"), nil
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match CONVERGENCE_*, with nested
	// keys joined by underscores (CONVERGENCE_LLM_PROVIDER)
	viper.SetEnvPrefix("CONVERGENCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// envKeys are bound explicitly; AutomaticEnv alone is invisible to
// Unmarshal for keys that appear in neither the file nor a flag
var envKeys = []string{
	"store.path",
	"llm.provider", "llm.model", "llm.api_key", "llm.base_url",
	"llm.http_proxy", "llm.https_proxy", "llm.no_proxy",
	"pubmed.api_key", "pubmed.max_results", "pubmed.reldate",
	"pubmed.http_proxy", "pubmed.https_proxy", "pubmed.no_proxy",
	"output.ledger_markdown", "output.ledger_json",
	"logging.level", "logging.format",
}

// loadConfig layers the config file, env and flags over the defaults
func loadConfig() (*model.Config, error) {
	c := model.DefaultConfig()
	if err := viper.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnvFallbacks(c)
	return c, nil
}

// applyEnvFallbacks fills API keys from the providers' conventional
// variables when neither config nor CONVERGENCE_* set them
func applyEnvFallbacks(c *model.Config) {
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini", "google":
			c.LLM.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		}
	}
	if c.LLM.BaseURL == "" && strings.EqualFold(c.LLM.Provider, "ollama") {
		c.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if c.PubMed.APIKey == "" {
		c.PubMed.APIKey = os.Getenv("NCBI_API_KEY")
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// setup loads the configuration and builds the logger for every command
func setup(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	// string flags are applied by hand: a bound but unset flag would
	// override the defaults with ""
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		c.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		c.Logging.Level = v
	} else if verbose && c.Logging.Level == "info" {
		c.Logging.Level = "debug"
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		c.Logging.Format = v
	}

	l, err := logging.New(c.Logging.Level, c.Logging.Format)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}
