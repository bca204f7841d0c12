// Package app assembles the HTTP service from its backing stores. Both the
// server binary and the acceptance suite build through New.
package app

import (
	"log/slog"
	"net/http"

	"cargolink/internal/billing/accesstoken"
	billinghandler "cargolink/internal/billing/handler"
	"cargolink/internal/billing/notify"
	"cargolink/internal/billing/webhook"
	"cargolink/internal/cache"
	cargohandler "cargolink/internal/cargo/handler"
	cargoservice "cargolink/internal/cargo/service"
	"cargolink/internal/cargotech/auth"
	"cargolink/internal/cargotech/client"
	"cargolink/internal/cargotech/limiter"
	"cargolink/internal/cargotech/retry"
	"cargolink/internal/platform/alert"
	"cargolink/internal/platform/config"
	"cargolink/internal/platform/health"
	"cargolink/internal/platform/kafka/producer"
	"cargolink/internal/platform/tracer"
	httptransport "cargolink/internal/transport/http"
)

// Backends are the stores and side channels the service runs on.
// CacheStore and BillingStore are required; the rest have defaults.
type Backends struct {
	CacheStore   cache.Store
	BillingStore webhook.TxRunner
	Publisher    producer.Publisher
	Notifier     alert.Notifier
	HTTPClient   auth.HTTPDoer
	Tracer       tracer.Tracer
	Health       *health.Handler
}

// App is the assembled service.
type App struct {
	Handler http.Handler
	Limiter *limiter.TokenBucket
	Tokens  *auth.Manager
	Cache   *cache.Cache
}

// New wires the upstream chain (limiter, retry, auth, typed client), the
// tiered cache, the payment webhook processor and the router.
func New(cfg config.Server, b Backends, logger *slog.Logger) *App {
	if b.Publisher == nil {
		b.Publisher = producer.NewNoopProducer()
	}
	if b.Notifier == nil {
		b.Notifier = alert.NewLogNotifier(logger)
	}
	if b.HTTPClient == nil {
		b.HTTPClient = &http.Client{Timeout: cfg.CargoTech.HTTPTimeout}
	}
	if b.Tracer == nil {
		b.Tracer = tracer.NewOTel()
	}
	if b.Health == nil {
		b.Health = health.New(cfg.Environment)
	}

	bucket := limiter.New(cfg.CargoTech.RateLimit)
	retrier := retry.New(bucket,
		retry.WithPolicy(retry.Policy{
			MaxAttempts: cfg.CargoTech.RetryAttempts,
			Base:        cfg.CargoTech.RetryBase,
			JitterMax:   cfg.CargoTech.RetryJitter,
		}),
		retry.WithLogger(logger),
		retry.WithTracer(b.Tracer),
	)
	tokens := auth.NewManager(cfg.CargoTech.BaseURL,
		auth.Credentials{Phone: cfg.CargoTech.Phone, Password: cfg.CargoTech.Password},
		b.HTTPClient, retrier,
		auth.WithTTL(cfg.CargoTech.TokenTTL),
		auth.WithLogger(logger),
		auth.WithTracer(b.Tracer),
		auth.WithNotifier(b.Notifier),
	)
	api := client.New(cfg.CargoTech.BaseURL, b.HTTPClient, tokens, client.WithLogger(logger))

	tiered := cache.New(b.CacheStore,
		cache.WithTTL(cache.TierList, cfg.Cache.ListTTL),
		cache.WithTTL(cache.TierDetail, cfg.Cache.DetailTTL),
		cache.WithTTL(cache.TierReference, cfg.Cache.ReferenceTTL),
		cache.WithStaleGrace(cfg.Cache.StaleGrace),
		cache.WithLogger(logger),
		cache.WithTracer(b.Tracer),
	)
	cargo := cargohandler.New(cargoservice.New(api, tiered, cargoservice.WithLogger(logger)), logger,
		cargohandler.WithWebhookSecret(cfg.CargoTech.WebhookSecret))
	if cfg.CargoTech.WebhookSecret == "" {
		logger.Warn("CARGOTECH_WEBHOOK_SECRET not set; every cargo notification will be rejected")
	}

	processor := webhook.NewProcessor(cfg.Billing.WebhookSecret, b.BillingStore,
		accesstoken.New(cfg.Billing.AccessTokenSigningKey),
		webhook.WithPlanDuration(cfg.Billing.PlanDuration),
		webhook.WithPublisher(notify.New(b.Publisher)),
		webhook.WithLogger(logger),
		webhook.WithTracer(b.Tracer),
	)
	if cfg.Billing.WebhookSecret == "" {
		logger.Warn("YOOKASSA_WEBHOOK_SECRET not set; every payment webhook will be rejected")
	}

	router := httptransport.NewRouter(httptransport.Routes{
		Health: b.Health,
		API:    []httptransport.Registrar{cargo},
		Webhooks: []httptransport.Registrar{
			httptransport.RegisterFunc(cargo.RegisterWebhooks),
			billinghandler.New(processor, logger),
		},
	}, logger)

	return &App{Handler: router, Limiter: bucket, Tokens: tokens, Cache: tiered}
}
