package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/audit"
	"github.com/sells-group/trueup-cli/internal/engine"
	"github.com/sells-group/trueup-cli/internal/gate"
	"github.com/sells-group/trueup-cli/internal/rules"
	"github.com/sells-group/trueup-cli/internal/store"
)

// env wires the core components for a command invocation.
type env struct {
	store    store.Store
	registry *rules.Registry
	gate     *gate.Gate
	emitter  *audit.Emitter
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	registry, err := loadRules()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &env{
		store:    st,
		registry: registry,
		gate:     gate.New(st),
		emitter:  audit.NewEmitter(st),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// engineFor builds an engine on the rule set effective for the fiscal year.
func (e *env) engineFor(fiscalYear string) (*engine.Engine, error) {
	rs, err := e.registry.ForYear(fiscalYear)
	if err != nil {
		return nil, err
	}
	return engine.New(rs, engine.WithAnomalyThreshold(cfg.Anomaly.Threshold))
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// loadRules reads the configured rules document, falling back to the
// built-in control period defaults. Validation failures are fatal here,
// before any computation starts.
func loadRules() (*rules.Registry, error) {
	if cfg.Rules.Path == "" {
		return rules.DefaultRegistry(), nil
	}
	return rules.Load(cfg.Rules.Path)
}
