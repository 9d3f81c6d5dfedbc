package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/definition"
	"github.com/rosterhq/roster/pkg/recovery"
	"github.com/rosterhq/roster/pkg/registry"
	"github.com/rosterhq/roster/pkg/resolver"
	"github.com/rosterhq/roster/pkg/resources"
	"github.com/rosterhq/roster/pkg/roles"
)

// workspaceRoots returns the explicit root from --base-path or
// ROSTER_BASE_PATH, or nil to use default root discovery.
func workspaceRoots() []string {
	if base := viper.GetString("base_path"); base != "" {
		return []string{base}
	}
	return nil
}

// openRegistry discovers definitions across the workspace roots and
// returns an initialized registry.
func openRegistry(ctx context.Context) (*registry.Registry, error) {
	var opts []definition.Option
	if roots := workspaceRoots(); len(roots) > 0 {
		opts = append(opts, definition.WithRoots(roots...))
	}

	store, err := definition.NewStore(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create definition store")
	}

	reg, err := registry.New(store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent registry")
	}

	if err := reg.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to initialize agent registry")
	}

	return reg, nil
}

func openResourceStore() (*resources.Store, error) {
	var opts []resources.Option
	if roots := workspaceRoots(); len(roots) > 0 {
		opts = append(opts, resources.WithRoots(roots...))
	}

	store, err := resources.NewStore(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource store")
	}
	return store, nil
}

func newResolver() (*resolver.Resolver, error) {
	store, err := openResourceStore()
	if err != nil {
		return nil, err
	}
	return resolver.New(store), nil
}

// newStateStore picks the session state backend from configuration.
// JSON is the default; SQLite is opt-in via state_backend.
func newStateStore(ctx context.Context) (activation.StateStore, error) {
	path := viper.GetString("state_path")

	switch backend := viper.GetString("state_backend"); backend {
	case "", "json":
		return activation.NewJSONStateStore(path)
	case "sqlite":
		return activation.NewSQLiteStateStore(ctx, path)
	default:
		return nil, errors.Errorf("unknown state backend %q, want json or sqlite", backend)
	}
}

// newSessionManager builds an activation manager wired to the registry,
// the workspace resource store, and the configured state backend.
func newSessionManager(ctx context.Context, reg *registry.Registry) (*activation.Manager, error) {
	store, err := openResourceStore()
	if err != nil {
		return nil, err
	}

	stateStore, err := newStateStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []activation.Option{
		activation.WithRoles(roles.ConfigFromStrings(viper.GetStringSlice("roles.singleton"))),
		activation.WithStateStore(stateStore),
	}
	if n := viper.GetInt("max_active"); n > 0 {
		opts = append(opts, activation.WithMaxActive(n))
	}
	if d := viper.GetDuration("session_timeout"); d > 0 {
		opts = append(opts, activation.WithSessionTimeout(d))
	}
	if d := viper.GetDuration("activation_timeout"); d > 0 {
		opts = append(opts, activation.WithActivationTimeout(d))
	}
	if s := viper.GetString("sweep_schedule"); s != "" {
		opts = append(opts, activation.WithSweepSchedule(s))
	}
	if p := viper.GetString("conflict_policy"); p != "" {
		opts = append(opts, activation.WithConflictPolicy(activation.ConflictPolicy(p)))
	}

	var ropts []recovery.Option
	if n := viper.GetUint("recovery.attempts"); n > 0 {
		ropts = append(ropts, recovery.WithAttempts(n))
	}
	if d := viper.GetDuration("recovery.delay"); d > 0 {
		ropts = append(ropts, recovery.WithDelay(d))
	}
	if len(ropts) > 0 {
		opts = append(opts, activation.WithRecoveryHandler(recovery.NewHandler(ropts...)))
	}

	mgr, err := activation.NewManager(reg, resources.NewLoader(store), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create activation manager")
	}
	return mgr, nil
}
