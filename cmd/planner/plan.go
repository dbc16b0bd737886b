package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"transit-planner/internal/config"
	"transit-planner/internal/logging"
	"transit-planner/internal/matcher"
)

func planCmd() *cobra.Command {
	var (
		origin    string
		date      string
		tm        string
		arrival   bool
		buffer    float64
		options   int
		noTraffic bool
	)

	c := &cobra.Command{
		Use:   "plan",
		Short: "Plan transit for one flight and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stderr"})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			p, err := buildPlanner(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer p.cleanup()

			req := matcher.NewRequest(date, tm)
			req.Origin = origin
			req.IsDeparture = !arrival
			req.BufferHours = buffer
			req.Options = options
			req.IncludeTraffic = !noTraffic

			res := p.matcher.Respond(cmd.Context(), req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&origin, "origin", "o", matcher.DefaultOrigin, "Origin town for departures, destination for arrivals")
	c.Flags().StringVarP(&date, "date", "d", "", "Flight date YYYY-MM-DD (required)")
	c.Flags().StringVarP(&tm, "time", "t", "", "Flight time HH:MM (required)")
	c.Flags().BoolVar(&arrival, "arrival", false, "Plan onward travel after landing instead of travel to a departure")
	c.Flags().Float64Var(&buffer, "buffer", matcher.DefaultBufferHours, "Hours to be at the airport before departure")
	c.Flags().IntVarP(&options, "options", "n", matcher.DefaultOptions, "Maximum number of options to return")
	c.Flags().BoolVar(&noTraffic, "no-traffic", false, "Skip the traffic delay estimate")

	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	return c
}
