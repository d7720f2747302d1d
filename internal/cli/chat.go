package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/securag/securag/internal/service/pipeline"
)

// Chatter 是交互式对话依赖的流水线能力。
type Chatter interface {
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)
	ResetSession(ctx context.Context, sessionID string) error
}

func newChatCommand(root *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the local pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, log, err := openContainer(ctx, root)
			if err != nil {
				return err
			}
			defer func() {
				_ = c.Close(ctx)
				_ = log.Sync()
			}()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return chatLoop(ctx, c.Engine, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

// chatLoop 逐行读取问题。exit/quit 退出，/reset 清空当前会话。
func chatLoop(ctx context.Context, engine Chatter, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "SecuRAG chat (session %s). Type /reset to clear history, exit to quit.\n", sessionID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "bye")
			return nil
		case "/reset":
			if err := engine.ResetSession(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, "history cleared")
			continue
		}

		fmt.Fprint(out, "AI: ")
		streamed := false
		reply, err := engine.Chat(ctx, pipeline.ChatRequest{
			SessionID: sessionID,
			Query:     line,
			OnToken: func(delta string) {
				streamed = true
				fmt.Fprint(out, delta)
			},
		})
		if err != nil {
			return err
		}

		if !streamed || reply.Blocked || reply.Degraded {
			fmt.Fprint(out, reply.Answer)
		}
		fmt.Fprintln(out)

		if reply.Route != "" {
			fmt.Fprintf(out, "[route=%s mode=%s", reply.Route, reply.Mode)
			if reply.RewrittenQuery != "" && reply.RewrittenQuery != line {
				fmt.Fprintf(out, " rewritten=%q", reply.RewrittenQuery)
			}
			fmt.Fprintln(out, "]")
		}

		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}
