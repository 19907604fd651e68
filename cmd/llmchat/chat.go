package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"goa.design/llmctx"
	"goa.design/llmctx/call"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
)

// chatDeps holds the running transcript. The prompt reads it on every turn,
// so the deps context owns conversation state and the call stays stateless.
type chatDeps struct {
	system  string
	history []*model.Message
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive streaming chat session",
	Args:  cobra.NoArgs,
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

		turn, err := call.New("chat",
			func(_ context.Context, c *llmctx.Context[*chatDeps]) ([]*model.Message, error) {
				d := c.Deps()
				msgs := make([]*model.Message, 0, len(d.history)+1)
				if d.system != "" {
					msgs = append(msgs, model.System(d.system))
				}
				return append(msgs, d.history...), nil
			},
			call.WithProvider[*chatDeps](provider, mdl),
			call.WithResolver[*chatDeps](newRegistry(cfg)),
			call.WithTelemetry[*chatDeps](call.Telemetry{Logger: telemetry.NewClueLogger()}),
		)
		if err != nil {
			return err
		}

		deps := &chatDeps{system: system}
		dctx := llmctx.New(deps)

		fmt.Printf("Chatting with %s. /reset clears the transcript, /quit exits.\n", provider)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/reset":
				deps.history = deps.history[:0]
				continue
			}

			deps.history = append(deps.history, model.User(line))
			reply, err := streamTurn(ctx, turn, dctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				deps.history = deps.history[:len(deps.history)-1]
				continue
			}
			deps.history = append(deps.history, model.Assistant(reply))
		}
	},
}

// streamTurn runs one streaming call, printing text deltas as they arrive,
// and returns the assembled reply.
func streamTurn(ctx context.Context, turn *call.Call[*chatDeps], dctx *llmctx.Context[*chatDeps]) (string, error) {
	stream, err := turn.Stream(ctx, dctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Println()
			return "", err
		}
		if chunk.Type == model.ChunkTypeText {
			fmt.Print(chunk.Text)
			reply.WriteString(chunk.Text)
		}
	}
	fmt.Println()
	return reply.String(), nil
}

func init() {
	chatCmd.Flags().StringP("system", "s", "", "System prompt")
}
