package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datatorch/agent/internal/build"
	"github.com/datatorch/agent/internal/cache"
	"github.com/datatorch/agent/internal/catalog"
	"github.com/datatorch/agent/internal/client"
	"github.com/datatorch/agent/internal/config"
	"github.com/datatorch/agent/internal/dispatch"
	"github.com/datatorch/agent/internal/job"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/step"
	"github.com/datatorch/agent/internal/supervisor"
	"github.com/datatorch/agent/internal/telemetry"
	"github.com/datatorch/agent/internal/variables"
)

func newStartCmd(cfgFile *string, debug, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Connect to the control plane and run dispatched pipeline jobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), *cfgFile, *debug, *quiet)
		},
	}
}

func runStart(ctx context.Context, cfgFile string, debug, quiet bool) error {
	var opts []logger.Option
	if debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	log := logger.NewLogger(opts...)

	paths, err := config.NewAgentPaths(config.AgentPathFromEnv())
	if err != nil {
		return fmt.Errorf("resolve app directory: %w", err)
	}
	if cfgFile != "" {
		paths, err = config.NewAgentPaths(cfgFile)
		if err != nil {
			return fmt.Errorf("resolve app directory: %w", err)
		}
	}

	settings, err := config.Load(paths)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.APIKey == "" && settings.AgentToken == "" {
		return fmt.Errorf("no agent credentials configured: set apiKey/agentToken in %s or DATATORCH_API_KEY/DATATORCH_AGENT_TOKEN", paths.SettingsFile())
	}

	log.Infof("starting %s %s (agent %s)", build.AppName, build.Version, settings.AgentID)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.New(paths, log)
	resultCache := cache.New()
	cpClient := client.New(settings.APIURL, settings.AgentID, settings.AgentToken)

	sampler := telemetry.New(cpClient, telemetry.DefaultPeriod, build.Version, log)
	go sampler.Run(ctx)

	runJob := func(jobCtx context.Context, spec job.Spec) error {
		vars := variables.New()
		runDir := paths.RunDir(spec.ID)

		newStep := func(cfg step.Config) *step.Step {
			return step.New(cfg, cpClient, cat, resultCache, log)
		}
		j := job.New(spec, cpClient, log, newStep)
		return j.Run(jobCtx, vars, runDir)
	}

	disp := dispatch.New(runJob, log)
	sup := supervisor.New(settings.APIURL, settings.AgentToken, disp.Run, log)

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	log.Infof("agent shut down cleanly")
	return nil
}
