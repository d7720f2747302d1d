package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/redteam"
)

func newRedteamCommand(root *rootOptions) *cobra.Command {
	var (
		apiURL      string
		concurrency int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "redteam",
		Short: "Run the built-in safe and attack cases and report the pass rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				target redteam.Target
				log    = zap.NewNop()
			)
			if apiURL != "" {
				target = redteam.NewHTTPTarget(apiURL, timeout)
			} else {
				c, l, err := openContainer(ctx, root)
				if err != nil {
					return err
				}
				defer func() {
					_ = c.Close(ctx)
					_ = l.Sync()
				}()
				target, log = redteam.EngineTarget{Engine: c.Engine}, l
			}

			report, err := redteam.NewRunner(target, redteam.Options{
				Concurrency: concurrency,
				Timeout:     timeout,
			}, log).Run(ctx, redteam.DefaultCases())
			if err != nil {
				return err
			}

			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !report.Robust() {
				return fmt.Errorf("%d of %d cases failed", report.Total()-report.Passed(), report.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "url", "", "evaluate a running server (e.g. http://localhost:8000) instead of the in-process pipeline")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "number of cases evaluated at the same time")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "per-case timeout")
	return cmd
}
