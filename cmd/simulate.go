package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"machine-monitor/internal/insight/narrative"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

type simulateOptions struct {
	ticks    int
	machine  string
	spikes   []string
	drifts   []string
	insights bool
}

func newSimulateCommand(a *app) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the pipeline offline and print snapshots as JSON lines.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.simulate(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.ticks, "ticks", 10, "number of ticks to run")
	cmd.Flags().StringVar(&opts.machine, "machine", "", "apply injections to this machine only")
	cmd.Flags().StringArrayVar(&opts.spikes, "spike", nil, "inject a spike as parameter:factor:ticks")
	cmd.Flags().StringArrayVar(&opts.drifts, "drift", nil, "inject a drift as parameter:rate:ticks")
	cmd.Flags().BoolVar(&opts.insights, "insights", false, "print the latest insight of every machine at the end")
	return cmd
}

func (a *app) simulate(cmd *cobra.Command, opts *simulateOptions) error {
	if opts.ticks < 1 {
		return fmt.Errorf("ticks must be positive, got %d", opts.ticks)
	}
	spikes := make([]simulator.Spike, 0, len(opts.spikes))
	for _, raw := range opts.spikes {
		param, factor, ticks, err := parseInjection(raw)
		if err != nil {
			return fmt.Errorf("--spike %q: %w", raw, err)
		}
		spikes = append(spikes, simulator.Spike{Parameter: param, Factor: factor, Ticks: ticks})
	}
	drifts := make([]simulator.Drift, 0, len(opts.drifts))
	for _, raw := range opts.drifts {
		param, rate, ticks, err := parseInjection(raw)
		if err != nil {
			return fmt.Errorf("--drift %q: %w", raw, err)
		}
		drifts = append(drifts, simulator.Drift{Parameter: param, Rate: rate, Ticks: ticks})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	generator, err := narrative.NewTemplateGenerator("")
	if err != nil {
		return err
	}
	profiles, err := loadRoster(a.cfg.RosterPath, a.logger)
	if err != nil {
		return err
	}
	queue := max(a.cfg.Broadcast.QueueSize, len(profiles))
	p, err := buildPipeline(ctx, a.cfg, profiles, generator, queue, a.logger)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, profile := range p.profiles {
		if opts.machine != "" && profile.ID != opts.machine {
			continue
		}
		if profile.SourceOrDefault() != machines.SourceSimulated {
			continue
		}
		for _, s := range spikes {
			if err := p.engine.InjectSpike(profile.ID, s); err != nil {
				return err
			}
		}
		for _, d := range drifts {
			if err := p.engine.InjectDrift(profile.ID, d); err != nil {
				return err
			}
		}
	}

	sub := p.broadcaster.Subscribe()
	defer sub.Close()
	enc := json.NewEncoder(cmd.OutOrStdout())
	at := time.Now().UTC()
	for i := 0; i < opts.ticks; i++ {
		if err := p.engine.Tick(ctx, at); err != nil {
			return err
		}
		for len(sub.C()) > 0 {
			if err := enc.Encode(<-sub.C()); err != nil {
				return err
			}
		}
		at = at.Add(a.cfg.TickInterval)
	}

	if !opts.insights {
		return nil
	}
	for _, profile := range p.profiles {
		pending, err := p.engine.RequestInsight(profile.ID)
		if err != nil {
			return err
		}
		result, err := pending.Wait(ctx)
		if err != nil {
			return fmt.Errorf("insight for %s: %w", profile.ID, err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

// parseInjection splits "parameter:amount:ticks".
func parseInjection(raw string) (machines.Parameter, float64, int, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("want parameter:amount:ticks")
	}
	param, err := machines.ParseParameter(parts[0])
	if err != nil {
		return 0, 0, 0, err
	}
	amount, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("amount: %w", err)
	}
	ticks, err := strconv.Atoi(parts[2])
	if err != nil || ticks < 1 {
		return 0, 0, 0, fmt.Errorf("ticks must be a positive integer, got %q", parts[2])
	}
	return param, amount, ticks, nil
}
