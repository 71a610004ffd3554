package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	chainmanager "chain_manager"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "chainctl",
		Short:         "Move and settle a multi-chain robot over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "chains.yaml", "chain configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newChainsCmd(opts),
		newStateCmd(opts),
		newMoveCmd(opts),
		newSettleCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadConfig() (*chainmanager.Config, error) {
	cfg, err := chainmanager.LoadConfigFile(o.configPath)
	if err != nil {
		return nil, err
	}
	for _, chain := range cfg.Chains {
		if chain.Arm != "" {
			return nil, fmt.Errorf("chain %s uses arm %s; arm chains are only available inside the viam module", chain.Name, chain.Arm)
		}
	}
	return cfg, nil
}

// connect loads the config and builds a ChainManager on the configured broker.
func (o *rootOptions) connect(ctx context.Context, p printer) (*chainmanager.ChainManager, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, p.failure("Invalid configuration", err)
	}

	logger := logging.NewLogger("chainctl")
	if o.debug {
		logger.SetLevel(logging.DEBUG)
	}

	if cfg.MQTT != nil {
		p.step("Connecting to %s", cfg.MQTT.Broker)
	}
	manager, err := chainmanager.NewChainManager(ctx, cfg, nil, logger)
	if err != nil {
		return nil, p.failure("Failed to start chain manager", err)
	}
	return manager, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func newChainsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List configured chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := printer{out: cmd.OutOrStdout()}
			cfg, err := chainmanager.LoadConfigFile(opts.configPath)
			if err != nil {
				return p.failure("Invalid configuration", err)
			}
			if len(cfg.Chains) == 0 {
				p.warning("No chains defined.")
				return nil
			}
			for _, chain := range cfg.Chains {
				endpoint := "topic " + chain.Topic
				if chain.Arm != "" {
					endpoint = "arm " + chain.Arm
				}
				group := "direct"
				if chain.RequiresPlanning() {
					group = "planned via " + chain.PlanningGroup
				}
				p.info("%s (%s, %s): %s", chain.Name, endpoint, group, strings.Join(chain.Joints, ", "))
			}
			return nil
		},
	}
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the latest joint state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := printer{out: cmd.OutOrStdout()}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			manager, err := opts.connect(ctx, p)
			if err != nil {
				return err
			}
			defer manager.Close(context.Background())

			deadline := time.Now().Add(wait)
			for {
				state, valid := manager.State()
				if valid {
					printState(p, state)
					return nil
				}
				if time.Now().After(deadline) {
					return p.failure(fmt.Sprintf("No joint state received within %v", wait), nil)
				}
				if !utils.SelectContextOrWait(ctx, 50*time.Millisecond) {
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for feedback")
	return cmd
}

func newMoveCmd(opts *rootOptions) *cobra.Command {
	var settle bool
	cmd := &cobra.Command{
		Use:   "move <targets.yaml>",
		Short: "Move every chain to the joint positions in a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{out: cmd.OutOrStdout()}
			target, err := readTargets(args[0])
			if err != nil {
				return p.failure("Invalid targets", err)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()
			manager, err := opts.connect(ctx, p)
			if err != nil {
				return err
			}
			defer manager.Close(context.Background())

			p.step("Moving %d joints", target.Len())
			ok, err := manager.MoveToState(ctx, target)
			if err != nil {
				return p.failure("Move failed", err)
			}
			if !ok {
				return p.failure("Move failed: a chain could not be planned", nil)
			}
			p.success("Move complete")

			if settle {
				return waitToSettle(ctx, p, manager)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&settle, "settle", false, "wait for joints to settle after moving")
	return cmd
}

func newSettleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Wait until every managed joint is at rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := printer{out: cmd.OutOrStdout()}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			manager, err := opts.connect(ctx, p)
			if err != nil {
				return err
			}
			defer manager.Close(context.Background())
			return waitToSettle(ctx, p, manager)
		},
	}
}

func waitToSettle(ctx context.Context, p printer, manager *chainmanager.ChainManager) error {
	p.step("Waiting to settle")
	settled, err := manager.WaitToSettle(ctx)
	if err != nil {
		return p.failure("Settle interrupted", err)
	}
	if !settled {
		p.warning("Joints did not settle before the timeout")
		return nil
	}
	p.success("Settled")
	return nil
}

func printState(p printer, state chainmanager.JointState) {
	for _, sample := range state.Samples {
		p.info("%-24s %10.4f %10.4f", sample.Name, sample.Position, sample.Velocity)
	}
}
