package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/supervisor"
	"github.com/chrisalpuerto/parallel-sessions/pkg/terminal"
)

func newRunCmd() *cobra.Command {
	var (
		target     string
		sessions   int
		useProxies bool
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch of sessions and print a summary",
		Long: `run starts a single batch of sessions against the target site without the
HTTP surface, streams status changes to the terminal and prints a summary
table once every session has ended. Ctrl+C stops the batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.startBackground(ctx, false); err != nil {
				return err
			}

			out := terminal.NewWithOutput(cmd.OutOrStdout(), terminal.IsTerminal(os.Stdout))
			events, unsubscribe := a.events.Subscribe()
			defer unsubscribe()

			info, err := a.sup.StartRun(ctx, supervisor.StartRequest{
				TargetURL:  target,
				UseProxies: useProxies,
				Count:      sessions,
			})
			if err != nil {
				return err
			}
			run := a.sup.Current()
			out.Header(fmt.Sprintf("run %s: %d sessions against %s", info.ID, info.Count, info.TargetURL))

		wait:
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						break wait
					}
					if !quiet {
						out.Event(ev)
					}
				case <-run.Done():
					break wait
				case <-ctx.Done():
					out.Warn("interrupted, stopping %d sessions", a.sup.StopRun())
					<-run.Done()
					break wait
				}
			}

			records := a.sup.Sessions()
			out.Summary(records)
			if !anyCheckedOut(records) {
				return withExitCode(errors.New("no session reached checkout"), exitNoCheckout)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Event page URL (defaults to run.target_url)")
	cmd.Flags().IntVarP(&sessions, "sessions", "n", 0, "Number of sessions (defaults to run.sessions)")
	cmd.Flags().BoolVar(&useProxies, "use-proxies", false, "Give each session its own proxy from the pool")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final summary")
	return cmd
}

func anyCheckedOut(records []session.Record) bool {
	for _, rec := range records {
		if rec.Status == session.StatusComplete || rec.Status == session.StatusFinished {
			return true
		}
	}
	return false
}
