package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"eventletter/internal/categorize"
	"eventletter/internal/pipeline"
	"eventletter/internal/scrape"
	"eventletter/internal/validate"
)

func scrapeRange(start, end string, days int) (scrape.Range, error) {
	if start == "" && end == "" {
		return pipeline.Window(time.Now(), days), nil
	}
	if start == "" || end == "" {
		return scrape.Range{}, errors.New("--start and --end must be given together")
	}
	return scrape.NewRange(start, end)
}

func scrapeCommand() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Collect events from the configured sources into events.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := scrapeRange(start, end, a.cfg.ScheduleDays)
			if err != nil {
				return err
			}
			doc, err := a.pipeline.Scrape(cmd.Context(), r)
			if err != nil {
				return err
			}
			for _, src := range doc.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d events\n", src.Tag, len(src.Events))
			}
			report := validate.Events(doc)
			if len(report.Issues) > 0 {
				printSummary(cmd.OutOrStdout(), report.Summary())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default start + schedule_days)")
	return cmd
}

func validateCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check events.json for missing or malformed fields",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, err := documents(cfg).LoadEvents()
			if err != nil {
				return err
			}
			report := validate.Events(doc)
			printIssues(cmd.OutOrStdout(), report, all)
			printSummary(cmd.OutOrStdout(), report.Summary())
			if !report.Valid() {
				return fmt.Errorf("%d critical issues", report.Count(validate.Critical))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list info-level issues too")
	return cmd
}

func categorizeCommand() *cobra.Command {
	var regenerate bool
	var model string
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Group events and write descriptions into categorized_events.json",
		Long: "Categorize reads events.json, asks the configured language model to group\n" +
			"the events and describe each group, and writes categorized_events.json.\n" +
			"The API key is read from " + pipeline.APIKeyEnv + ".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := pipeline.EnvCredential(a.cfg)
			if err != nil {
				return err
			}
			if model != "" {
				cred.Model = model
			}
			res, err := a.pipeline.Categorize(cmd.Context(), cred, categorize.RunOptions{Regenerate: regenerate})
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "ignore cached descriptions and write new ones")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model for this run")
	return cmd
}

func renderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Render categorized_events.json into newsletter.html",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			path, _, err := a.pipeline.Render(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func runCommand() *cobra.Command {
	var start, end string
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape, categorize and render in one go",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := scrapeRange(start, end, a.cfg.ScheduleDays)
			if err != nil {
				return err
			}
			cred, err := pipeline.EnvCredential(a.cfg)
			if err != nil {
				return err
			}
			rep, err := a.pipeline.Run(cmd.Context(), cred, r, categorize.RunOptions{Regenerate: regenerate})
			if rep != nil && rep.Categorize != nil {
				printResult(cmd.OutOrStdout(), rep.Categorize)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.NewsletterPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "ignore cached descriptions and write new ones")
	return cmd
}
