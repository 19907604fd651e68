package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"goa.design/llmctx/config"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and their configuration state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			var err error
			if cfg, err = config.Load(path); err != nil {
				return err
			}
		} else {
			cfg = config.FromEnv()
		}

		fmt.Printf("  %-10s  %-14s  %s\n", "PROVIDER", "STATE", "MODEL")
		for _, name := range config.Names() {
			mark := " "
			if name == cfg.Default {
				mark = "*"
			}
			state := "not configured"
			if cfg.Configured(name) {
				state = "configured"
			}
			fmt.Printf("%s %-10s  %-14s  %s\n", mark, name, state, modelFor(cfg, name))
		}
		return nil
	},
}

func modelFor(cfg config.Config, name string) string {
	switch name {
	case config.Anthropic:
		return cfg.Anthropic.Model
	case config.OpenAI:
		return cfg.OpenAI.Model
	case config.Google:
		return cfg.Google.Model
	case config.Bedrock:
		return cfg.Bedrock.Model
	}
	return ""
}
