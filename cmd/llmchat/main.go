// Command llmchat is a terminal client for the configured model providers.
// Prompts go through the registry and call packages, so provider selection,
// middleware and telemetry behave exactly as they do in a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/llmctx/config"
	"goa.design/llmctx/registry"
	"goa.design/llmctx/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "llmchat",
	Short: "Chat with LLM providers from the terminal",
	Long: `llmchat sends prompts to the configured model providers.

Credentials come from a YAML file (--config) or from the environment:
ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY or AWS_REGION. The
default provider is the first configured one unless LLM_PROVIDER says
otherwise.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file (default: environment discovery)")
	rootCmd.PersistentFlags().StringP("provider", "p", "", "Provider to call: anthropic, openai, google or bedrock")
	rootCmd.PersistentFlags().StringP("model", "m", "", "Model identifier (default: the provider's configured model)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(versionCmd)
}

// runContext returns the context commands execute under, with the logger
// configured for the terminal and the requested verbosity.
func runContext(cmd *cobra.Command) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(cmd.Context(), log.WithFormat(format))
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

// loadConfig reads the file named by --config when given, otherwise
// discovers providers from the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	cfg, err := config.Discover()
	if errors.Is(err, config.ErrNoProviderConfigured) {
		return cfg, fmt.Errorf("%w: set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY or AWS_REGION, or pass --config", err)
	}
	return cfg, err
}

// pickProvider returns the provider to call: the --provider flag when set,
// else the configured default.
func pickProvider(cmd *cobra.Command, cfg config.Config) (string, error) {
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		return p, nil
	}
	if cfg.Default != "" {
		return cfg.Default, nil
	}
	return "", errors.New("no provider selected: pass --provider or set a default in the configuration")
}

// pickModel returns the model to request: the --model flag when set, else
// the provider's configured model.
func pickModel(cmd *cobra.Command, cfg config.Config, provider string) (string, error) {
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		return m, nil
	}
	if m := modelFor(cfg, provider); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("no model configured for provider %q: pass --model", provider)
}

func newRegistry(cfg config.Config) *registry.Registry {
	return registry.New(cfg, registry.WithLogger(telemetry.NewClueLogger()))
}
