package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpfed/gateway/internal/gwlog"
	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/config"
	"github.com/mcpfed/gateway/pkg/dispatcher"
	"github.com/mcpfed/gateway/pkg/idempotency"
	"github.com/mcpfed/gateway/pkg/killswitch"
	"github.com/mcpfed/gateway/pkg/listener"
	"github.com/mcpfed/gateway/pkg/meta"
	"github.com/mcpfed/gateway/pkg/rcache"
	"github.com/mcpfed/gateway/pkg/registry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and block until shutdown",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := gwlog.L()

	path, err := configPathFlag()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	reg := registry.New(log)
	if err := reg.Reload(ctx, cfg.BackendSpecs()); err != nil {
		return fmt.Errorf("loading backends: %w", err)
	}

	globalPolicy, err := cfg.GlobalPolicy()
	if err != nil {
		return fmt.Errorf("compiling tool policy: %w", err)
	}
	stack := authz.NewStack(authz.NewRateLimiters(), globalPolicy, cfg.MTLSPolicy())

	ks := killswitch.New()
	eb := killswitch.NewErrorBudget(ks, cfg.BudgetConfig(), func(backend string) {
		log.Warn("kill-switch tripped", zap.String("backend", backend))
	})

	respStore, err := cfg.ResponseCacheStore()
	if err != nil {
		return fmt.Errorf("building response cache: %w", err)
	}
	respCache := rcache.New(respStore, cfg.MetaMCP.CacheTTL, rcache.NewReadOnlyClassifier(nil))

	d := dispatcher.New(reg, stack, idempotency.NewDefault(), respCache, ks, eb,
		cfg.RetryConfig(), dispatcher.NewStats(), cfg.Server.RequestTimeout)

	surface := meta.New(reg, d, ks)

	listenerCfg := cfg.ListenerConfig()
	srv := listener.New(listenerCfg, reg, d, surface)

	log.Info("gateway starting",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Int("backends", len(cfg.Backends)),
		zap.Bool("mtls", cfg.MTLS.Enabled),
		zap.Bool("auth", cfg.Auth.Enabled))

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("listener stopped: %w", err)
	}
	log.Info("gateway shut down cleanly")
	return nil
}
