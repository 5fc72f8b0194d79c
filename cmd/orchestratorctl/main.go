// Command orchestratorctl is the CLI surface for the orchestrator:
// list-agents, validate, schedule, status, cancel, wired with fixed exit
// codes (0 success; 2 validation failure; 3 insufficient budget; 4
// execution failure; 5 cancellation).
//
// The overall bootstrap shape (read config, build a logger, build the
// dependency graph, run one operation under a cancellable context) follows
// a conventional cmd/server/main.go pattern; the subcommand tree uses
// github.com/spf13/cobra.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/useVega/vega-protocol/internal/caller"
	"github.com/useVega/vega-protocol/internal/chain"
	"github.com/useVega/vega-protocol/internal/config"
	"github.com/useVega/vega-protocol/internal/docloader"
	"github.com/useVega/vega-protocol/internal/engine"
	"github.com/useVega/vega-protocol/internal/eventbus"
	"github.com/useVega/vega-protocol/internal/ledger"
	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/payment"
	"github.com/useVega/vega-protocol/internal/registry"
	"github.com/useVega/vega-protocol/internal/scheduler"
	"github.com/useVega/vega-protocol/internal/storage/postgres"
	"github.com/useVega/vega-protocol/internal/workflow"
	"github.com/useVega/vega-protocol/internal/xerrors"
	"github.com/useVega/vega-protocol/internal/zaplog"
)

const (
	exitSuccess            = 0
	exitValidationFailure  = 2
	exitInsufficientBudget = 3
	exitExecutionFailure   = 4
	exitCancelled          = 5
)

var (
	configPath  string
	agentsPath  string
	databaseURL string
	wallet      string
	balance     uint64
)

func main() {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Validate and run workflow orchestrator specs",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON config file")
	root.PersistentFlags().StringVar(&agentsPath, "agents", "", "path to a YAML agent directory seed file")
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres DSN; when set, runs are persisted and status/cancel become usable across invocations")

	root.AddCommand(
		newListAgentsCmd(),
		newValidateCmd(),
		newScheduleCmd(),
		newStatusCmd(),
		newCancelCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitExecutionFailure)
	}
}

func newListAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-agents",
		Short: "List every agent in the configured registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadAgents()
			if err != nil {
				return err
			}
			for _, d := range reg.List(registry.Filters{}) {
				fmt.Printf("%-24s %-10s %-12s %s\n", d.Ref, d.Status, d.Category, d.EndpointURL)
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-doc>",
		Short: "Validate a workflow document against the agent registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadAgents()
			if err != nil {
				return err
			}
			spec, err := docloader.Load(args[0])
			if err != nil {
				os.Exit(exitValidationFailure)
			}

			result := workflow.NewValidator(reg).Validate(spec)
			if !result.OK() {
				for _, reason := range result.Reasons {
					fmt.Fprintln(os.Stderr, "validation error:", reason)
				}
				os.Exit(exitValidationFailure)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <workflow-doc> <inputs-json>",
		Short: "Schedule and run a workflow to completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "operator-wallet", "wallet address to reserve budget against")
	cmd.Flags().Uint64Var(&balance, "balance", 0, "wallet balance to credit before scheduling (demo/test convenience; real balances come from on-chain observation)")
	return cmd
}

func runSchedule(ctx context.Context, specPath, inputsJSON string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := zaplog.New(zaplog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	reg, err := loadAgents()
	if err != nil {
		return err
	}
	spec, err := docloader.Load(specPath)
	if err != nil {
		os.Exit(exitValidationFailure)
	}

	result := workflow.NewValidator(reg).Validate(spec)
	if !result.OK() {
		for _, reason := range result.Reasons {
			fmt.Fprintln(os.Stderr, "validation error:", reason)
		}
		os.Exit(exitValidationFailure)
	}

	var inputs map[string]any
	if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
		fmt.Fprintln(os.Stderr, "invalid inputs JSON:", err)
		os.Exit(exitValidationFailure)
	}

	store, l, err := buildStoreAndLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if balance > 0 {
		if err := l.Credit(wallet, spec.Token, money.Atomic(balance)); err != nil {
			return err
		}
	}

	sched := scheduler.New(store, l)
	run, err := sched.Schedule(spec, wallet, inputs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "schedule error:", err)
		if xerrors.CodeOf(err) == xerrors.CodeInsufficientBudget {
			os.Exit(exitInsufficientBudget)
		}
		os.Exit(exitExecutionFailure)
	}

	c := caller.New(nil, caller.DefaultTimeout, logger)
	paymentCoord, err := buildPaymentCoordinator(ctx, cfg, c, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(logger)
	eng := engine.New(reg, c, paymentCoord, sched, bus, logger, uuid.NewString)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	finished, err := eng.Execute(runCtx, spec, run, inputs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "execution error:", err)
	}

	out, _ := json.MarshalIndent(finished, "", "  ")
	fmt.Println(string(out))

	switch finished.Status {
	case scheduler.RunCompleted:
		return nil
	case scheduler.RunCancelled:
		os.Exit(exitCancelled)
	default:
		os.Exit(exitExecutionFailure)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <runId>",
		Short: "Print the current status of a run (requires --database-url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return xerrors.New(xerrors.CodeValidation, "status requires --database-url; the in-memory store does not survive across invocations")
			}
			store, err := postgres.Dial(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(args[0])
			if err != nil {
				os.Exit(exitExecutionFailure)
			}
			out, _ := json.MarshalIndent(run, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <runId>",
		Short: "Cancel a queued or running run (requires --database-url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return xerrors.New(xerrors.CodeValidation, "cancel requires --database-url; the in-memory store does not survive across invocations")
			}
			store, err := postgres.Dial(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			l := ledger.New(uuid.NewString)
			sched := scheduler.New(store, l)
			if _, err := sched.Cancel(args[0]); err != nil {
				fmt.Fprintln(os.Stderr, "cancel error:", err)
				os.Exit(exitExecutionFailure)
			}
			os.Exit(exitCancelled)
			return nil
		},
	}
}

// agentSeed is the minimal YAML shape --agents accepts: a flat list of
// already-published descriptors, for CLI convenience. A full deployment
// would populate the registry through an admin API instead.
type agentSeed struct {
	Ref             string            `yaml:"ref"`
	Name            string            `yaml:"name"`
	Category        string            `yaml:"category"`
	EndpointURL     string            `yaml:"endpointUrl"`
	SupportedChains []string          `yaml:"supportedChains"`
	SupportedTokens []string          `yaml:"supportedTokens"`
	RequiresPayment bool              `yaml:"requiresPayment"`
	PricingAmount   uint64            `yaml:"pricingAmount"`
	Tags            []string          `yaml:"tags"`
	Metadata        map[string]string `yaml:"metadata"`
}

func loadAgents() (*registry.Registry, error) {
	reg := registry.New()
	if agentsPath == "" {
		return reg, nil
	}
	data, err := os.ReadFile(agentsPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "read agents seed file")
	}
	var seeds []agentSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "parse agents seed file")
	}
	for _, s := range seeds {
		created, err := reg.Create(registry.Descriptor{
			Ref:             s.Ref,
			Name:            s.Name,
			Category:        registry.Category(s.Category),
			EndpointURL:     s.EndpointURL,
			SupportedChains: s.SupportedChains,
			SupportedTokens: s.SupportedTokens,
			Pricing:         registry.Pricing{RequiresPayment: s.RequiresPayment, Amount: s.PricingAmount},
			Tags:            s.Tags,
		})
		if err != nil {
			return nil, err
		}
		if _, err := reg.Publish(created.Ref); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildStoreAndLedger(ctx context.Context, cfg config.Config) (scheduler.RunStore, *ledger.Ledger, error) {
	l := ledger.New(uuid.NewString)
	if databaseURL != "" {
		store, err := postgres.Dial(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, l, nil
	}
	if cfg.DatabaseURL != "" {
		store, err := postgres.Dial(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, l, nil
	}
	return scheduler.NewStore(), l, nil
}

// buildPaymentCoordinator wires a chain.Signer/RPC backed PaymentCoordinator
// when SIGNER_KEY is configured; absent that, it returns a nil
// engine.PaymentCaller, which the engine surfaces as a PaymentError the
// first time a paywalled node runs.
func buildPaymentCoordinator(ctx context.Context, cfg config.Config, c *caller.Caller, logger *zap.SugaredLogger) (engine.PaymentCaller, error) {
	if cfg.SignerKeyHex == "" {
		return nil, nil
	}

	ethClient, err := chain.Dial(ctx, chain.Config{
		Network:      cfg.PaymentNetwork,
		RPCURL:       cfg.RPCURL,
		SignerKeyHex: cfg.SignerKeyHex,
	}, logger)
	if err != nil {
		return nil, err
	}

	var maxPayment *big.Int
	if cfg.MaxPaymentAtomic > 0 {
		maxPayment = new(big.Int).SetUint64(cfg.MaxPaymentAtomic)
	}

	return payment.New(c, payment.Config{
		MaxPaymentAtomic: maxPayment,
		Signer:           ethClient,
		RPC:              ethClient,
	}, logger), nil
}
