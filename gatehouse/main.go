// Package gatehouse provides the public API for gatehouse-go: rate limiting,
// request and webhook signing, signed URLs, tenant resolution, and the
// middleware that ties them together.
package gatehouse

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/log"
	"github.com/gatehouse-security/gatehouse-go/internal/ratelimit"
	"github.com/gatehouse-security/gatehouse-go/internal/signedurl"
	"github.com/gatehouse-security/gatehouse-go/internal/signing"
	"github.com/gatehouse-security/gatehouse-go/internal/tenant"
	"github.com/gatehouse-security/gatehouse-go/internal/webhook"
)

// ResourcePolicy re-exports the per-resource limit configuration.
type ResourcePolicy = config.ResourcePolicy

// Limit re-exports the request budget for a resource.
type Limit = config.Limit

// RouteRule re-exports the route to resource mapping rule.
type RouteRule = config.RouteRule

func init() {
	// The disabled flag must be readable before Init runs.
	config.SetGatehouseDisabled(getEnvBool("GATEHOUSE_DISABLE"))
}

// SetDisabled controls whether gatehouse processing is enabled or disabled.
// When disabled is true, middleware and interceptors pass every request
// through untouched. This overrides the GATEHOUSE_DISABLE environment
// variable.
func SetDisabled(disabled bool) {
	config.SetGatehouseDisabled(disabled)
}

// Config holds configuration options for gatehouse.
type Config struct {
	// LogLevel sets the logging level (DEBUG, INFO, WARN, ERROR)
	LogLevel string
	// Logger provides a custom slog instance that overrides LogLevel
	Logger *slog.Logger
	// Debug enables debug logging (overrides LogLevel)
	Debug bool

	// Redis backs the rate limiter and nonce store with a shared client.
	// When nil, everything runs on in-process memory stores.
	Redis *redis.Client

	// Resources overrides the built-in per-resource limit table.
	Resources map[string]ResourcePolicy
	// Routes maps method and route patterns to limit resources. Requests
	// matching no rule fall back to the default prefix mapping.
	Routes []RouteRule
	// ResourceFor picks the limit resource for a request, overriding
	// Routes. Defaults to path-prefix matching ("/api/..." -> "api",
	// "/auth/..." -> "auth", everything else -> "global").
	ResourceFor func(r *http.Request) string

	// Registry resolves tenant identifiers. Required for tenant resolution.
	Registry tenant.Registry
	// BaseDomain enables subdomain tenant resolution ("acme" from
	// "acme.<BaseDomain>").
	BaseDomain string
	// TenantPorts maps local ports to tenant codes for development setups.
	TenantPorts map[int]string
	// ResolverOrder lists resolver names ("subdomain", "header", "port",
	// "query") in the order the chain should try them. Defaults to
	// subdomain, header, query, with port appended when TenantPorts is set.
	ResolverOrder []string
	// RequireTenant rejects requests that no resolver could match.
	RequireTenant bool

	// Secrets maps signing key ids to shared secrets.
	Secrets map[string]string
	// Keys overrides Secrets with a custom lookup.
	Keys signing.KeyLookup
	// VerifySignatures makes the middleware verify request signatures.
	VerifySignatures bool
	// SignatureWindow overrides the accepted clock skew for signed requests.
	SignatureWindow time.Duration
	// WebhookMaxAge overrides the accepted age for webhook signatures.
	WebhookMaxAge time.Duration
	// URLSigningSecret enables the signed URL facade.
	URLSigningSecret string
}

// instance is the configured singleton behind the public API.
type instance struct {
	limiter    *ratelimit.Limiter
	signer     *signing.Signer
	chain      *tenant.Chain
	registry   tenant.Registry
	urlSigner  *signedurl.Signer
	dispatcher *webhook.Dispatcher

	requireTenant    bool
	verifySignatures bool
	resourceFor      func(r *http.Request) string

	cancelJanitor context.CancelFunc
}

var (
	instMu  sync.RWMutex
	current *instance
)

func getInstance() *instance {
	instMu.RLock()
	defer instMu.RUnlock()
	return current
}

// Init starts gatehouse with configuration taken from the environment.
func Init() error {
	return InitWithConfig(Config{})
}

// InitWithConfig starts gatehouse with explicit configuration. Empty fields
// fall back to environment variables and built-in defaults. Calling it again
// replaces the running configuration.
func InitWithConfig(cfg Config) error {
	if config.IsGatehouseDisabled() {
		return nil
	}

	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "INFO"
	}
	if cfg.Debug {
		logLevel = "DEBUG"
	}
	if err := log.SetLogLevel(logLevel); err != nil {
		return err
	}
	if cfg.Logger != nil {
		log.SetLogger(cfg.Logger)
	}

	config.LoadFromEnv()

	if cfg.Resources != nil {
		config.SetResources(cfg.Resources)
	}
	if cfg.BaseDomain != "" {
		config.SetBaseDomain(cfg.BaseDomain)
	}
	if cfg.SignatureWindow > 0 {
		config.SetSignatureWindow(cfg.SignatureWindow)
	}
	if cfg.WebhookMaxAge > 0 {
		config.SetWebhookMaxAge(cfg.WebhookMaxAge)
	}
	if cfg.Secrets != nil {
		config.SetSecrets(cfg.Secrets)
	}

	inst, err := buildInstance(cfg)
	if err != nil {
		return err
	}

	instMu.Lock()
	if current != nil && current.cancelJanitor != nil {
		current.cancelJanitor()
	}
	current = inst
	instMu.Unlock()

	log.Info("gatehouse loaded",
		slog.Bool("redis", cfg.Redis != nil),
		slog.Bool("verify_signatures", cfg.VerifySignatures))
	return nil
}

// Shutdown stops background work and detaches the configured instance.
// Middleware installed before Shutdown keeps serving but stops enforcing.
func Shutdown() {
	instMu.Lock()
	defer instMu.Unlock()

	if current != nil && current.cancelJanitor != nil {
		current.cancelJanitor()
	}
	current = nil
}

func buildInstance(cfg Config) (*instance, error) {
	inst := &instance{
		registry:         cfg.Registry,
		requireTenant:    cfg.RequireTenant,
		verifySignatures: cfg.VerifySignatures,
		resourceFor:      cfg.ResourceFor,
	}
	if inst.resourceFor == nil {
		inst.resourceFor = routeResourceFor(cfg.Routes)
	}

	var (
		counters   ratelimit.CounterStore
		violations ratelimit.ViolationStore
		nonces     signing.NonceStore
	)
	if cfg.Redis != nil {
		store := ratelimit.NewRedisStore(cfg.Redis)
		counters, violations = store, store
		nonces = signing.NewRedisNonceStore(cfg.Redis)
	} else {
		store := ratelimit.NewMemoryStore()
		janitorCtx, cancel := context.WithCancel(context.Background())
		store.StartJanitor(janitorCtx, time.Minute)
		inst.cancelJanitor = cancel
		counters, violations = store, store
		nonces = signing.NewMemoryNonceStore()
	}
	inst.limiter = ratelimit.NewLimiter(counters, violations)

	keys := cfg.Keys
	if keys == nil {
		keys = config.GetSecret
	}
	signer, err := signing.NewSigner(keys, nonces,
		signing.WithTimeWindow(config.GetSignatureWindow()))
	if err != nil {
		return nil, err
	}
	inst.signer = signer

	inst.chain = buildChain(cfg)
	if cfg.URLSigningSecret != "" {
		inst.urlSigner = signedurl.New(cfg.URLSigningSecret)
	}
	inst.dispatcher = webhook.NewDispatcher()

	return inst, nil
}

func buildChain(cfg Config) *tenant.Chain {
	if cfg.Registry == nil {
		return nil
	}

	order := cfg.ResolverOrder
	if len(order) == 0 {
		order = []string{"subdomain", "header", "query"}
		if len(cfg.TenantPorts) > 0 {
			order = append(order, "port")
		}
	}

	baseDomain := cfg.BaseDomain
	if baseDomain == "" {
		baseDomain = config.GetBaseDomain()
	}

	var resolvers []tenant.Resolver
	for _, name := range order {
		switch name {
		case "subdomain":
			resolvers = append(resolvers, tenant.SubdomainResolver{
				BaseDomain: baseDomain,
				Registry:   cfg.Registry,
			})
		case "header":
			resolvers = append(resolvers, tenant.HeaderResolver{Registry: cfg.Registry})
		case "port":
			resolvers = append(resolvers, tenant.PortResolver{
				Ports:    cfg.TenantPorts,
				Registry: cfg.Registry,
			})
		case "query":
			resolvers = append(resolvers, tenant.QueryResolver{Registry: cfg.Registry})
		default:
			log.Warn("unknown tenant resolver", slog.String("name", name))
		}
	}
	return tenant.NewChain(resolvers...)
}

func routeResourceFor(routes []RouteRule) func(r *http.Request) string {
	if len(routes) == 0 {
		return defaultResourceFor
	}
	return func(r *http.Request) string {
		if rule, ok := config.MatchRoute(r.Method, r.URL.Path, routes); ok {
			return rule.Resource
		}
		return defaultResourceFor(r)
	}
}

func defaultResourceFor(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/auth" || strings.HasPrefix(path, "/auth/"):
		return "auth"
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return "api"
	default:
		return "global"
	}
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
