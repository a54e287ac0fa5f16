package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/decompose"
	"github.com/zen-systems/localroute/pkg/router"
	"github.com/zen-systems/localroute/pkg/server"
)

// taskInput joins args, or reads stdin when there are none.
func taskInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("task is required (as arguments or on stdin)")
	}
	return text, nil
}

type routeFlags struct {
	context    int
	output     int
	complexity float64
	priority   string
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.context, "context", 0, "prompt tokens (estimated from the task when 0)")
	cmd.Flags().IntVar(&f.output, "output", 0, "expected completion tokens")
	cmd.Flags().Float64Var(&f.complexity, "complexity", -1, "task complexity 0-1 (estimated when negative)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "speed, cost or quality")
}

func (f *routeFlags) params(text string) (router.Params, error) {
	priority, err := router.ParsePriority(f.priority)
	if err != nil {
		return router.Params{}, err
	}
	return router.Params{
		Task:                 text,
		ContextLength:        f.context,
		ExpectedOutputLength: f.output,
		Complexity:           f.complexity,
		Priority:             priority,
	}, nil
}

func routeCmd() *cobra.Command {
	var flags routeFlags
	cmd := &cobra.Command{
		Use:   "route [task]",
		Short: "Decide where a task should run",
		Long: `Runs the full routing analysis: complexity, token budget, priority,
	cost and model history. A confident threshold-only decision is returned
	without consulting the catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := taskInput(args)
			if err != nil {
				return err
			}
			p, err := flags.params(text)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.engine.RouteTask(ctx, p)
			if err != nil {
				return err
			}
			return printDecision(os.Stdout, d)
		},
	}
	flags.register(cmd)
	return cmd
}

func preemptCmd() *cobra.Command {
	var flags routeFlags
	cmd := &cobra.Command{
		Use:   "preempt [task]",
		Short: "Fast routing decision from thresholds only",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := taskInput(args)
			if err != nil {
				return err
			}
			p, err := flags.params(text)
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printDecision(os.Stdout, a.engine.PreemptiveRouting(p))
		},
	}
	flags.register(cmd)
	return cmd
}

func costCmd() *cobra.Command {
	var contextTokens, outputTokens int
	var model string
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Compare local and paid cost for a request size",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contextTokens < 0 || outputTokens < 0 {
				return fmt.Errorf("token counts must be non-negative")
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printCost(os.Stdout, a.registry.EstimateCost(contextTokens, outputTokens, a.cfg.Models.Resolve(model)))
		},
	}
	cmd.Flags().IntVar(&contextTokens, "context", 1000, "prompt tokens")
	cmd.Flags().IntVar(&outputTokens, "output", 500, "completion tokens")
	cmd.Flags().StringVar(&model, "model", "", "remote model id or alias")
	return cmd
}

type planFlags struct {
	maxSubtasks       int
	subtasks          int
	granularity       string
	resourceEfficient bool
	balanceLoad       bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxSubtasks, "max-subtasks", 0, "upper bound on subtasks")
	cmd.Flags().IntVar(&f.subtasks, "subtasks", 0, "exact number of subtasks to request")
	cmd.Flags().StringVar(&f.granularity, "granularity", "", "coarse, medium or fine")
	cmd.Flags().BoolVar(&f.resourceEfficient, "resource-efficient", false, "share models across similar subtasks")
	cmd.Flags().BoolVar(&f.balanceLoad, "balance-load", false, "spread subtasks off heavily shared models")
}

func (f *planFlags) options() coordinator.Options {
	return coordinator.Options{
		Decompose: decompose.Options{
			MaxSubtasks:       f.maxSubtasks,
			FixedSubtaskCount: f.subtasks,
			Granularity:       decompose.Granularity(f.granularity),
		},
		ResourceEfficient: f.resourceEfficient,
		BalanceLoad:       f.balanceLoad,
	}
}

func planCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "plan [task]",
		Short: "Break a coding task into subtasks with model assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := taskInput(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.coord.ProcessCodeTask(ctx, text, flags.options())
			if err != nil {
				return err
			}
			return printPlan(os.Stdout, plan)
		},
	}
	flags.register(cmd)
	return cmd
}

func runCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Plan, execute and synthesize a coding task",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := taskInput(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.coord.Run(ctx, text, flags.options())
			if err != nil {
				return err
			}
			return printRun(os.Stdout, res)
		},
	}
	flags.register(cmd)
	return cmd
}

func modelsCmd() *cobra.Command {
	var freeOnly, refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Long: `Lists the cached model catalog. The catalog is refreshed when stale;
	use --refresh to fetch it now.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.registry.Refresh(ctx, refresh)
			if len(report.Failed) > 0 {
				fmt.Fprintf(os.Stderr, "Sources unavailable: %s\n", strings.Join(report.Failed, ", "))
			}
			models := a.registry.ListModels()
			if freeOnly {
				models = a.registry.ListFreeModels()
			}
			return printModels(os.Stdout, models)
		},
	}
	cmd.Flags().BoolVar(&freeOnly, "free", false, "only zero-cost hosted models")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the catalogs even when fresh")
	return cmd
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Show model performance history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printProfiles(os.Stdout, a.profiles.All())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			h := server.NewHandler(a.registry, a.engine, a.coord,
				server.WithProfiles(a.profiles),
				server.WithLogger(a.logger),
			)
			return server.Serve(server.New(h))
		},
	}
}
