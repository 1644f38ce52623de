package main

import (
	"github.com/spf13/cobra"

	appLog "eventletter/internal/log"
	"eventletter/internal/pipeline"
	"eventletter/internal/web"
)

func serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI and API, and run the schedule if one is configured",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// --listen overrides the config file if provided.
			if listen != "" {
				a.cfg.Listen = listen
			}

			if a.cfg.Schedule != "" {
				sched, err := pipeline.NewScheduler(a.pipeline, a.cfg.Schedule)
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			}

			err = web.StartServer(ctx, a.cfg, a.pipeline)
			appLog.Info("eventletter exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
