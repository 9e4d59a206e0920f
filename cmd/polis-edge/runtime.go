package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-edge/internal/governance"
	"github.com/polisai/polis-edge/pkg/config"
	"github.com/polisai/polis-edge/pkg/engine"
	"github.com/polisai/polis-edge/pkg/routing"
	"github.com/polisai/polis-edge/pkg/storage"
	"github.com/polisai/polis-edge/pkg/telemetry"
)

// edgeRuntime bundles the proxy with the resources that need cleanup.
type edgeRuntime struct {
	proxy   *engine.Proxy
	metrics *telemetry.Metrics
	watcher *storage.Watcher
	rules   int
}

// buildRuntime loads the rule set and landing page and assembles the proxy. The
// landing page watcher, when enabled, runs until ctx ends or Close is called.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*edgeRuntime, error) {
	rules, err := config.LoadRuleSet(cfg.Proxy.RulesFile)
	if err != nil {
		return nil, err
	}

	rt := &edgeRuntime{metrics: metrics, rules: len(rules.Rules)}

	var landing storage.LandingPage = storage.Embedded()
	if cfg.Proxy.LandingPage != "" {
		page, err := storage.NewFileLandingPage(cfg.Proxy.AssetsDir, cfg.Proxy.LandingPage, logger)
		if err != nil {
			return nil, fmt.Errorf("landing page: %w", err)
		}
		landing = page

		if cfg.Proxy.WatchLandingPage {
			w, err := storage.NewWatcher(page, logger, storage.WithReloadHook(func(err error) {
				metrics.RecordLandingReload(err == nil)
			}))
			if err != nil {
				return nil, fmt.Errorf("landing page watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				_ = w.Stop()
				return nil, fmt.Errorf("landing page watcher: %w", err)
			}
			rt.watcher = w
		}
	}

	for _, i := range routing.Inert(rules.Rules) {
		logger.Warn("literal rule is not path-rooted and never matches", "rule", i, "source", rules.Rules[i].Source)
	}

	rt.proxy = engine.NewProxy(rules, engine.Options{
		Timeouts: governance.TimeoutConfig{UpstreamTimeout: cfg.Proxy.UpstreamTimeout},
		Landing:  landing,
		Logger:   logger,
		Metrics:  metrics,
	})
	return rt, nil
}

// Close releases the landing page watcher.
func (rt *edgeRuntime) Close() error {
	if rt.watcher != nil {
		return rt.watcher.Stop()
	}
	return nil
}
