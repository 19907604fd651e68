package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"goa.design/llmctx"
	"goa.design/llmctx/call"
	"goa.design/llmctx/callctx"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
)

// askDeps carries the question into the prompt through the deps context.
type askDeps struct {
	system   string
	question string
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt>...",
	Short: "Send a single prompt and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := runContext(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		provider, err := pickProvider(cmd, cfg)
		if err != nil {
			return err
		}
		mdl, err := pickModel(cmd, cfg, provider)
		if err != nil {
			return err
		}
		system, _ := cmd.Flags().GetString("system")
		jsonMode, _ := cmd.Flags().GetBool("json")
		streaming, _ := cmd.Flags().GetBool("stream")
		usage, _ := cmd.Flags().GetBool("usage")

		ask, err := call.New("ask",
			func(_ context.Context, c *llmctx.Context[askDeps]) ([]*model.Message, error) {
				d := c.Deps()
				var msgs []*model.Message
				if d.system != "" {
					msgs = append(msgs, model.System(d.system))
				}
				return append(msgs, model.User(d.question)), nil
			},
			call.WithProvider[askDeps](provider, mdl),
			call.WithResolver[askDeps](newRegistry(cfg)),
			call.WithTelemetry[askDeps](call.Telemetry{Logger: telemetry.NewClueLogger()}),
		)
		if err != nil {
			return err
		}

		var opts []llmctx.Option
		if jsonMode {
			opts = append(opts, callctx.WithJSONMode(true))
		}
		if streaming {
			opts = append(opts, callctx.WithStream(true))
		}
		dctx := llmctx.New(askDeps{system: system, question: strings.Join(args, " ")}, opts...)

		resp, err := ask.Execute(ctx, dctx)
		if err != nil {
			return err
		}
		fmt.Println(resp.Text())

		if usage {
			tel := resp.Telemetry()
			fmt.Fprintf(os.Stderr, "%s/%s: %d input tokens, %d output tokens, %dms\n",
				tel.Provider, tel.Model, tel.InputTokens, tel.OutputTokens, tel.DurationMs)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringP("system", "s", "", "System prompt")
	askCmd.Flags().Bool("json", false, "Ask the model for a JSON object reply")
	askCmd.Flags().Bool("stream", false, "Use the streaming transport (the reply is still printed whole)")
	askCmd.Flags().Bool("usage", false, "Print token usage to stderr")
}
