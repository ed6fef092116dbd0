// Package container wires an event store process together from its config.
package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarulabs/di/v2"

	"github.com/GabrielCarpr/eventcore/config"
	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/eventstore/badger"
	"github.com/GabrielCarpr/eventcore/eventstore/memory"
	"github.com/GabrielCarpr/eventcore/eventstore/postgres"
	"github.com/GabrielCarpr/eventcore/log"
	"github.com/GabrielCarpr/eventcore/metrics"
	"github.com/GabrielCarpr/eventcore/publish"
	"github.com/GabrielCarpr/eventcore/registry"
	"github.com/GabrielCarpr/eventcore/subscription"
	"github.com/GabrielCarpr/eventcore/upcast"
)

// Definition names.
const (
	ConfigDef        = "config"
	PrometheusDef    = "prometheus"
	MetricsDef       = "metrics"
	RegistryDef      = "registry"
	UpcastersDef     = "upcasters"
	BackendDef       = "backend"
	StoreDef         = "store"
	SubscriptionsDef = "subscriptions"
)

// Module is what an application contributes: the events it stores and the
// upcasters for their older payloads.
type Module struct {
	Events    []interface{}
	Upcasters []upcast.Upcaster
}

type Container struct {
	ctn di.Container
}

// Build defines every service and opens the store, so a bad config or an
// unreachable database fails here.
func Build(c config.Config, modules ...Module) (*Container, error) {
	builder, err := di.NewBuilder()
	if err != nil {
		return nil, err
	}

	err = builder.Add(
		di.Def{
			Name: ConfigDef,
			Build: func(ctn di.Container) (interface{}, error) {
				return c, nil
			},
		},
		di.Def{
			Name: PrometheusDef,
			Build: func(ctn di.Container) (interface{}, error) {
				return prometheus.NewRegistry(), nil
			},
		},
		di.Def{
			Name: MetricsDef,
			Build: func(ctn di.Container) (interface{}, error) {
				if c.Metrics.Namespace == "" {
					return (*metrics.Metrics)(nil), nil
				}
				return metrics.New(ctn.Get(PrometheusDef).(*prometheus.Registry), c.Metrics.Namespace)
			},
		},
		di.Def{
			Name: RegistryDef,
			Build: func(ctn di.Container) (interface{}, error) {
				reg := registry.New()
				for _, m := range modules {
					reg.Register(m.Events...)
				}
				return reg, nil
			},
		},
		di.Def{
			Name: UpcastersDef,
			Build: func(ctn di.Container) (interface{}, error) {
				chain := upcast.NewChain()
				for _, m := range modules {
					chain.Add(m.Upcasters...)
				}
				return chain, nil
			},
		},
		di.Def{
			Name: BackendDef,
			Build: func(ctn di.Container) (interface{}, error) {
				return openBackend(c)
			},
			Close: func(obj interface{}) error {
				return obj.(eventstore.Backend).Close()
			},
		},
		di.Def{
			Name: StoreDef,
			Build: func(ctn di.Container) (interface{}, error) {
				return eventstore.New(ctn.Get(BackendDef).(eventstore.Backend),
					eventstore.WithRegistry(ctn.Get(RegistryDef).(*registry.Registry)),
					eventstore.WithUpcasters(ctn.Get(UpcastersDef).(*upcast.Chain)),
					eventstore.WithMetrics(ctn.Get(MetricsDef).(*metrics.Metrics)),
					eventstore.WithOrigin(c.Origin),
				)
			},
		},
		di.Def{
			Name: SubscriptionsDef,
			Build: func(ctn di.Container) (interface{}, error) {
				return subscription.New(ctn.Get(StoreDef).(*eventstore.Store)), nil
			},
		},
	)
	if err != nil {
		return nil, err
	}

	ctn := builder.Build()
	if _, err := ctn.SafeGet(StoreDef); err != nil {
		ctn.Delete()
		return nil, fmt.Errorf("eventcore.container: %w", err)
	}
	return &Container{ctn: ctn}, nil
}

func openBackend(c config.Config) (eventstore.Backend, error) {
	ctx := context.Background()
	log.Info(ctx, "opening backend", log.F{"backend": c.Backend})

	switch c.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendBadger:
		return badger.Open(c.Badger.Dir)
	case config.BackendPostgres:
		opts := []postgres.Option{postgres.WithLogger(publish.NewLogger())}
		if c.Postgres.Outbox != "" {
			opts = append(opts, postgres.WithOutbox(c.Postgres.Outbox))
		}
		return postgres.Open(ctx, c.Postgres, opts...)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, c.Backend)
}

func (c *Container) Config() config.Config {
	return c.ctn.Get(ConfigDef).(config.Config)
}

func (c *Container) Store() *eventstore.Store {
	return c.ctn.Get(StoreDef).(*eventstore.Store)
}

func (c *Container) Backend() eventstore.Backend {
	return c.ctn.Get(BackendDef).(eventstore.Backend)
}

func (c *Container) Subscriptions() *subscription.Registry {
	return c.ctn.Get(SubscriptionsDef).(*subscription.Registry)
}

// Gatherer exposes the collected metrics, for a /metrics handler.
func (c *Container) Gatherer() prometheus.Gatherer {
	return c.ctn.Get(PrometheusDef).(*prometheus.Registry)
}

// Worker builds a worker for subscription with the configured polling.
func (c *Container) Worker(subscriptionID string, h subscription.Handler) *subscription.Worker {
	conf := c.Config().Subscriptions
	return &subscription.Worker{
		Subscription: subscriptionID,
		Handler:      h,
		Registry:     c.Subscriptions(),
		PollInterval: conf.PollInterval,
		BatchSize:    conf.BatchSize,
		MaxFailures:  conf.MaxFailures,
	}
}

// Close closes the backend.
func (c *Container) Close() error {
	return c.ctn.Delete()
}
