package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/gigkeys/pkg/billingapi"
	"github.com/dmitrymomot/gigkeys/pkg/config"
	"github.com/dmitrymomot/gigkeys/pkg/httpserver"
	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/ratelimiter"
	"github.com/dmitrymomot/gigkeys/pkg/redis"
	"github.com/dmitrymomot/gigkeys/pkg/stripebilling"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

const readinessTimeout = 3 * time.Second

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing API server",
		Long: "Serve the billing API backed by Stripe, with Stripe customer ids cached in Redis. " +
			"With --demo the API is backed by an in-memory billing provider instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var cfg httpserver.Config
			if err := config.Load(&cfg, config.WithEnvFiles(o.envFiles...)); err != nil {
				return err
			}

			var limits ratelimiter.Config
			if err := config.Load(&limits, config.WithEnvFiles(o.envFiles...)); err != nil {
				return err
			}

			b, err := o.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			limiter, err := ratelimiter.New(b.limits, limits)
			if err != nil {
				return err
			}

			handler := o.routes(b.billing, limiter, b.checks...)
			o.log.InfoContext(ctx, "billing api starting", logger.Component("serve"), slog.Bool("demo", o.demo))
			return httpserver.New(cfg, httpserver.WithLogger(o.log)).Run(ctx, handler)
		},
	}
}

// backend is what the API server runs on.
type backend struct {
	billing subscription.BillingCollaborator
	limits  ratelimiter.Store
	checks  []httpserver.Check
	close   func()
}

// backend wires Stripe with Redis for customer ids and rate limits, or the
// in-memory provider in demo mode.
func (o *options) backend(ctx context.Context) (*backend, error) {
	if o.demo {
		demo, err := o.demoBilling()
		if err != nil {
			return nil, err
		}
		return &backend{billing: demo, limits: ratelimiter.NewMemoryStore(), close: func() {}}, nil
	}

	var (
		stripeCfg stripebilling.Config
		redisCfg  redis.Config
	)
	if err := config.Load(&stripeCfg, config.WithEnvFiles(o.envFiles...)); err != nil {
		return nil, err
	}
	if err := config.Load(&redisCfg, config.WithEnvFiles(o.envFiles...)); err != nil {
		return nil, err
	}

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return nil, err
	}

	billing := stripebilling.New(stripebilling.NewAPI(stripeCfg.SecretKey),
		stripebilling.WithCustomerStore(stripebilling.NewRedisCustomerStore(client, redisCfg, stripeCfg.CustomerCacheTTL)),
		stripebilling.WithCatalog(o.catalog),
		stripebilling.WithLogger(o.log),
	)
	return &backend{
		billing: billing,
		limits:  ratelimiter.NewRedisStore(client, redisCfg),
		checks:  []httpserver.Check{{Name: "redis", Fn: redis.Healthcheck(client)}},
		close: func() {
			if err := client.Close(); err != nil {
				o.log.Warn("closing redis client", logger.Error(err))
			}
		},
	}, nil
}

// routes mounts the health probes and the billing API.
func (o *options) routes(billing subscription.BillingCollaborator, limiter *ratelimiter.Limiter, checks ...httpserver.Check) http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(o.log, readinessTimeout, checks...))

	api := billingapi.NewServer(billing,
		billingapi.WithServerCatalog(o.catalog),
		billingapi.WithServerLogger(o.log),
		billingapi.WithMutationLimiter(limiter),
	)
	r.Mount("/", api.Routes())
	return r
}
