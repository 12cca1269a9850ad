package stripebilling

import "time"

// Config is loaded from the environment with pkg/config.
type Config struct {
	SecretKey string `env:"STRIPE_SECRET_KEY,required"`
	// SetupPaymentMethod is the payment method token SetupConfirmer attaches,
	// e.g. a test card token.
	SetupPaymentMethod string        `env:"STRIPE_SETUP_PAYMENT_METHOD" envDefault:"pm_card_visa"`
	CustomerCacheTTL   time.Duration `env:"STRIPE_CUSTOMER_CACHE_TTL" envDefault:"720h"`
}
