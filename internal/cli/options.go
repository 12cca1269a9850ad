package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/gigkeys/pkg/billingapi"
	"github.com/dmitrymomot/gigkeys/pkg/config"
	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/requestid"
	"github.com/dmitrymomot/gigkeys/pkg/stripebilling"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

const demoPaymentMethod = "pm_demo_visa"

var (
	errMissingUser      = errors.New("no user given: pass --user or set GETKEYS_USER")
	errNoPaymentCapture = errors.New("collecting a new card needs STRIPE_SECRET_KEY")
)

// appConfig holds the settings shared by every command.
type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT"`
	CatalogFile    string        `env:"CATALOG_FILE"`
	BillingTimeout time.Duration `env:"BILLING_TIMEOUT" envDefault:"30s"`
	APIURL         string        `env:"GETKEYS_API_URL" envDefault:"http://localhost:8080"`
	UserID         string        `env:"GETKEYS_USER"`
}

type options struct {
	apiURL   string
	userID   string
	demo     bool
	demoPlan string
	logLevel string
	envFiles []string

	cfg     appConfig
	log     *slog.Logger
	catalog *subscription.Catalog
}

// load reads the environment, applies flag overrides and builds the logger
// and plan catalog.
func (o *options) load(cmd *cobra.Command) error {
	if err := config.Load(&o.cfg, config.WithEnvFiles(o.envFiles...)); err != nil {
		return err
	}
	if o.apiURL != "" {
		o.cfg.APIURL = o.apiURL
	}
	if o.userID != "" {
		o.cfg.UserID = o.userID
	}
	if o.logLevel != "" {
		o.cfg.LogLevel = o.logLevel
	}

	logOpts := []logger.Option{
		logger.WithEnvironment(o.cfg.Env, "getkeys"),
		logger.WithOutput(cmd.ErrOrStderr()),
		logger.WithLevelName(o.cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	}
	switch logger.Format(o.cfg.LogFormat) {
	case logger.FormatJSON, logger.FormatText:
		logOpts = append(logOpts, logger.WithFormat(logger.Format(o.cfg.LogFormat)))
	}
	o.log = logger.New(logOpts...)

	source := subscription.NewInMemSource(subscription.DefaultPlans()...)
	if o.cfg.CatalogFile != "" {
		source = subscription.NewFileSource(o.cfg.CatalogFile)
	}
	catalog, err := source.Load(cmd.Context())
	if err != nil {
		return err
	}
	o.catalog = catalog
	return nil
}

// manager builds a subscription manager for the configured user, backed by
// the demo backend or the billing API.
func (o *options) manager(ctx context.Context, notifier subscription.Notifier) (*subscription.Manager, error) {
	if o.demo && o.cfg.UserID == "" {
		o.cfg.UserID = "demo_user"
	}
	if o.cfg.UserID == "" {
		return nil, errMissingUser
	}

	var (
		billing   subscription.BillingCollaborator
		collector subscription.PaymentCollector
	)
	if o.demo {
		demo, err := o.demoBilling()
		if err != nil {
			return nil, err
		}
		billing = demo
		static := subscription.NewStaticCollector(demoPaymentMethod)
		static.Confirmer = demo
		collector = static
	} else {
		billing = billingapi.NewClient(o.cfg.APIURL)
		collector = o.stripeCollector()
	}

	return subscription.NewManager(o.cfg.UserID, billing, collector,
		subscription.WithCatalog(o.catalog),
		subscription.WithLogger(o.log),
		subscription.WithTimeout(o.cfg.BillingTimeout),
		subscription.WithNotifier(notifier),
	), nil
}

func (o *options) demoBilling() (*subscription.MemoryBilling, error) {
	demo := subscription.NewMemoryBilling(subscription.WithMemoryCatalog(o.catalog))
	demo.AddPaymentMethod(o.cfg.UserID, subscription.PaymentMethod{
		ID: demoPaymentMethod, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030,
	}, true)

	if o.demoPlan == "" {
		return demo, nil
	}
	plan, ok := o.catalog.Plan(subscription.PlanID(o.demoPlan))
	if !ok {
		return nil, fmt.Errorf("%w: %s", subscription.ErrPlanNotFound, o.demoPlan)
	}
	now := time.Now().UTC()
	demo.Put(o.cfg.UserID, &subscription.Subscription{
		Status:             subscription.StatusActive,
		PlanType:           plan.ID,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.Interval.Next(now),
	})
	return demo, nil
}

// stripeCollector confirms new cards against Stripe test mode when a key is
// configured.
func (o *options) stripeCollector() subscription.PaymentCollector {
	var cfg stripebilling.Config
	if err := config.Load(&cfg, config.WithEnvFiles(o.envFiles...)); err != nil {
		o.log.Debug("stripe not configured, new cards cannot be collected", logger.Error(err))
		return unavailableCollector{}
	}
	return stripebilling.NewSetupConfirmer(stripebilling.NewAPI(cfg.SecretKey), cfg.SetupPaymentMethod)
}

type unavailableCollector struct{}

func (unavailableCollector) CollectAndConfirmSetup(context.Context, string) (string, error) {
	return "", errNoPaymentCapture
}

func (unavailableCollector) ConfirmPayment(context.Context, string) error {
	return errNoPaymentCapture
}
