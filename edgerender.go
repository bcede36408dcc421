package edgerender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/edgerender/adapter"
	"github.com/zalando/edgerender/cache"
	"github.com/zalando/edgerender/cache/leveldbstore"
	"github.com/zalando/edgerender/cache/redisstore"
	"github.com/zalando/edgerender/cache/s3store"
	"github.com/zalando/edgerender/circuit"
	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/manifest"
	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/middleware"
	enet "github.com/zalando/edgerender/net"
	"github.com/zalando/edgerender/otel"
	"github.com/zalando/edgerender/proxy"
	"github.com/zalando/edgerender/queue"
	"github.com/zalando/edgerender/queue/redisqueue"
	"github.com/zalando/edgerender/tags"
	"github.com/zalando/edgerender/tags/sqlitestore"
	"github.com/zalando/edgerender/tags/valkeystore"
)

// Backends of the cache, the tag and the queue stores.
const (
	MemoryBackend  = "memory"
	LevelDBBackend = "leveldb"
	RedisBackend   = "redis"
	S3Backend      = "s3"
	SQLiteBackend  = "sqlite"
	ValkeyBackend  = "valkey"

	// NoBackend disables the cache interception.
	NoBackend = "none"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultMetricsPrefix   = "edgerender."
)

// Options to start edgerender.
type Options struct {
	// Network address that edgerender should listen on.
	Address string

	// Network address of the metrics, health check and route table
	// endpoints. Disabled when empty.
	SupportListener string

	// NormalizeHost lowercases the host of the incoming requests and
	// removes the port and the trailing dot.
	NormalizeHost bool

	// ForwardedFor appends the client address to X-Forwarded-For.
	ForwardedFor bool

	// ForwardedProto overrides X-Forwarded-Proto of the incoming
	// requests, e.g. https behind a TLS terminating loadbalancer.
	ForwardedProto string

	// TrustedProxies are the CIDRs allowed to send X-Forwarded-*
	// headers. When empty, every client is trusted.
	TrustedProxies []string

	// RendererURL is the base URL of the rendering backend.
	RendererURL string

	// ManifestFile contains the route definitions, the rewrite rules,
	// the prerender list and the i18n configuration.
	ManifestFile string

	// WatchManifest reloads the manifest when the file changes.
	WatchManifest bool

	// Timeout of the outgoing requests to the renderer and the
	// external rewrite destinations.
	BackendTimeout time.Duration

	// DisableExternalRewrites answers the rewrites to another origin
	// with the error page.
	DisableExternalRewrites bool

	// Cache backend: none, memory, leveldb, redis or s3.
	CacheBackend string

	LevelDBPath string

	RedisAddrs    []string
	RedisPassword string

	// CacheTTL expires the entries of the redis cache store. Zero keeps
	// them until replaced.
	CacheTTL time.Duration

	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string

	// Tag store backend: memory, sqlite or valkey.
	TagBackend string

	SQLitePath string

	ValkeyAddrs    []string
	ValkeyPassword string

	// Revalidation queue backend: memory or redis. The redis backend
	// shares the jobs between the instances, it uses RedisAddrs.
	QueueBackend string
	QueueShards  int
	QueueBuffer  int

	// RevalidationTimeout limits a single revalidation request.
	RevalidationTimeout time.Duration

	// RevalidationSecret is sent with the revalidation requests.
	RevalidationSecret string

	// MiddlewareURL is the endpoint of the user middleware. Disabled
	// when empty.
	MiddlewareURL     string
	MiddlewareTimeout time.Duration

	// StoreBreakers configure the circuit breakers of the stores.
	StoreBreakers []circuit.BreakerSettings

	// SyncBackground runs the deferred work before the response is
	// returned.
	SyncBackground bool

	// BackgroundTimeout limits the deferred work.
	BackgroundTimeout time.Duration

	// Prefix for application log entries. Primarily used to be
	// able to select between access log and application log
	// entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Application log level.
	ApplicationLogLevel log.Level

	ApplicationLogJSONEnabled bool

	// Output for the access log entries, when nil, os.Stderr is
	// used.
	AccessLogOutput io.Writer

	AccessLogDisabled    bool
	AccessLogJSONEnabled bool

	// EnablePrometheusMetrics collects the metrics with prometheus,
	// otherwise they are discarded.
	EnablePrometheusMetrics bool

	// MetricsPrefix is the common prefix of the metric names.
	MetricsPrefix string

	EnableRuntimeMetrics bool

	// OpenTelemetry configures the trace pipeline.
	OpenTelemetry *otel.Options

	// WaitForHealthcheckInterval is the delay between receiving
	// SIGTERM and shutting down the listeners, while the health
	// check reports the instance unhealthy.
	WaitForHealthcheckInterval time.Duration

	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration

	// CustomMiddleware replaces the remote middleware, e.g. when
	// embedding edgerender as a library.
	CustomMiddleware middleware.Handler
}

type closer func() error

type stack struct {
	closers []closer
}

func (s *stack) push(c closer) { s.closers = append(s.closers, c) }

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Errorf("Error while closing: %v", err)
		}
	}
}

// instance holds the wired components of a running edgerender.
type instance struct {
	options    Options
	metrics    metrics.Metrics
	routing    *manifest.Routing
	background *proxy.Background
	queue      *queue.Queue
	revalidate *queue.HTTPRevalidator
	consume    func(context.Context) error
	handler    http.Handler
	support    http.Handler
	healthy    *health
	resources  stack
}

func initLog(o Options) {
	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      o.ApplicationLogOutput,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           o.AccessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})
}

func initMetrics(o Options) metrics.Metrics {
	if !o.EnablePrometheusMetrics {
		return metrics.Void
	}

	prefix := o.MetricsPrefix
	if prefix == "" {
		prefix = defaultMetricsPrefix
	}

	m := metrics.NewPrometheus(metrics.Options{
		Prefix:               prefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
	})

	metrics.Default = m
	return m
}

func (i *instance) redisClient() (*enet.RedisRingClient, error) {
	if len(i.options.RedisAddrs) == 0 {
		return nil, errors.New("redis backend: no address configured")
	}

	c := enet.NewRedisRingClient(&enet.RedisOptions{
		Addrs:    i.options.RedisAddrs,
		Password: i.options.RedisPassword,
		Metrics:  i.metrics,
	})

	i.resources.push(c.Close)
	if !c.RingAvailable(context.Background()) {
		log.Warn("redis ring not available at startup")
	}

	c.StartMetricsCollection()
	return c, nil
}

func (i *instance) cacheStore(redis func() (*enet.RedisRingClient, error)) (cache.Store, error) {
	o := i.options
	switch o.CacheBackend {
	case "", NoBackend:
		return nil, nil
	case MemoryBackend:
		return cache.NewMemory(), nil
	case LevelDBBackend:
		s, err := leveldbstore.Open(o.LevelDBPath)
		if err != nil {
			return nil, err
		}

		i.resources.push(s.Close)
		return s, nil
	case RedisBackend:
		c, err := redis()
		if err != nil {
			return nil, err
		}

		return redisstore.New(c, redisstore.Options{TTL: o.CacheTTL}), nil
	case S3Backend:
		return s3store.New(s3store.NewClient(s3store.ClientOptions{
			Region:   o.S3Region,
			Endpoint: o.S3Endpoint,
		}), s3store.Options{Bucket: o.S3Bucket, Prefix: o.S3Prefix})
	default:
		return nil, fmt.Errorf("invalid cache backend: %s", o.CacheBackend)
	}
}

func (i *instance) tagStore() (tags.Store, error) {
	o := i.options
	switch o.TagBackend {
	case "", MemoryBackend:
		return tags.NewMemory(), nil
	case SQLiteBackend:
		s, err := sqlitestore.Open(sqlitestore.Options{Path: o.SQLitePath})
		if err != nil {
			return nil, err
		}

		i.resources.push(s.Close)
		return s, nil
	case ValkeyBackend:
		c, err := enet.NewValkeyRingClient(&enet.ValkeyOptions{
			Addrs:      o.ValkeyAddrs,
			Password:   o.ValkeyPassword,
			EnableOTel: true,
			Metrics:    i.metrics,
		})
		if err != nil {
			return nil, err
		}

		i.resources.push(func() error { c.Close(); return nil })
		if err := c.PingAll(context.Background()); err != nil {
			log.Warnf("valkey not available at startup: %v", err)
		}

		return valkeystore.New(c, ""), nil
	default:
		return nil, fmt.Errorf("invalid tag backend: %s", o.TagBackend)
	}
}

// revalidationQueue creates the local queue consuming the jobs, and the
// queue the interceptor enqueues to. With the redis backend, the jobs
// go through a redis stream shared by the instances and consume feeds
// the local queue.
func (i *instance) revalidationQueue(client *enet.Transport, redis func() (*enet.RedisRingClient, error)) (cache.Enqueuer, error) {
	o := i.options
	i.revalidate = &queue.HTTPRevalidator{
		URL:     o.RendererURL,
		Secret:  o.RevalidationSecret,
		Client:  client,
		Timeout: o.RevalidationTimeout,
	}

	q, err := queue.New(queue.Options{
		Shards:   o.QueueShards,
		Buffer:   o.QueueBuffer,
		Consumer: i.revalidate,
		Metrics:  i.metrics,
	})
	if err != nil {
		return nil, err
	}

	i.queue = q

	switch o.QueueBackend {
	case "", MemoryBackend:
		return q, nil
	case RedisBackend:
		c, err := redis()
		if err != nil {
			return nil, err
		}

		rq := redisqueue.New(c, redisqueue.Options{Metrics: i.metrics})
		i.consume = func(ctx context.Context) error { return rq.Consume(ctx, q) }
		return rq, nil
	default:
		return nil, fmt.Errorf("invalid queue backend: %s", o.QueueBackend)
	}
}

func newInstance(o Options) (_ *instance, err error) {
	i := &instance{options: o, healthy: newHealth()}
	defer func() {
		if err != nil {
			i.resources.close()
		}
	}()

	i.metrics = initMetrics(o)

	var redisClient *enet.RedisRingClient
	redis := func() (*enet.RedisRingClient, error) {
		if redisClient != nil {
			return redisClient, nil
		}

		var err error
		redisClient, err = i.redisClient()
		return redisClient, err
	}

	quit := make(chan struct{})
	i.resources.push(func() error { close(quit); return nil })
	client := enet.NewHTTPRoundTripper(enet.Options{Timeout: o.BackendTimeout}, quit)

	breakers := circuit.NewRegistry(o.StoreBreakers...)

	store, err := i.cacheStore(redis)
	if err != nil {
		return nil, err
	}

	var co cache.Options
	if store != nil {
		ts, err := i.tagStore()
		if err != nil {
			return nil, err
		}

		q, err := i.revalidationQueue(client, redis)
		if err != nil {
			return nil, err
		}

		i.background = proxy.NewBackground(proxy.BackgroundOptions{
			Sync:    o.SyncBackground,
			Timeout: o.BackgroundTimeout,
		})

		co = cache.Options{
			Store:    store,
			Tags:     ts,
			Queue:    q,
			Defer:    i.background.Go,
			Breakers: breakers,
			Metrics:  i.metrics,
		}
	}

	mw := o.CustomMiddleware
	if mw == nil && o.MiddlewareURL != "" {
		mw = &middleware.Remote{
			URL:    o.MiddlewareURL,
			Client: enet.NewHTTPRoundTripper(enet.Options{Timeout: o.MiddlewareTimeout}, quit),
		}
	}

	i.routing, err = manifest.NewRouting(manifest.RoutingOptions{
		Options: manifest.Options{Cache: co, Middleware: mw},
		Path:    o.ManifestFile,
		Watch:   o.WatchManifest,
	})
	if err != nil {
		return nil, err
	}

	i.resources.push(func() error { i.routing.Close(); return nil })

	// the base path of the revalidation requests is taken from the
	// initial manifest, changing it requires a restart
	if i.revalidate != nil {
		i.revalidate.BasePath = i.routing.Get().Manifest.BasePath
	}

	renderer := proxy.NewRenderer(o.RendererURL, client, breakers.Get("renderer"))
	var relay proxy.Upstream
	if !o.DisableExternalRewrites {
		relay = proxy.NewRelay(client, breakers.Get("relay"))
	}

	px := proxy.New(proxy.Params{
		Routing:  i.routing,
		Renderer: renderer,
		Relay:    relay,
		Metrics:  i.metrics,
	})

	ingress := enet.IngressOptions{
		NormalizeHost:  o.NormalizeHost,
		ForwardedFor:   o.ForwardedFor,
		ForwardedProto: o.ForwardedProto,
	}

	if len(o.TrustedProxies) > 0 {
		ingress.TrustedProxies, err = enet.ParseIPSet(o.TrustedProxies)
		if err != nil {
			return nil, err
		}
	}

	i.handler = logging.NewObservedHandler(
		enet.NewIngressHandler(ingress, adapter.New(px, nil)),
		i.metrics.MeasureServe,
	)
	i.support = newSupportHandler(i.metrics, i.healthy, i.routing)
	return i, nil
}

func (i *instance) server(addr string, h http.Handler) *http.Server {
	o := i.options
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		ErrorLog:          newServerErrorLog(),
	}
}

func (i *instance) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			log.Errorf("Failed to shut down the server %s: %v", s.Addr, err)
		}
	}

	if i.background != nil {
		if err := i.background.Flush(ctx); err != nil {
			log.Warnf("Deferred work not finished: %v", err)
		}
	}

	if i.queue != nil {
		if err := i.queue.Close(ctx); err != nil {
			log.Warnf("Revalidation queue not drained: %v", err)
		}
	}
}

// run serves until the listeners fail or a signal is received on sigs.
func (i *instance) run(sigs <-chan os.Signal) error {
	defer i.resources.close()
	defer i.metrics.Close()

	servers := []*http.Server{i.server(i.options.Address, i.handler)}
	if i.options.SupportListener != "" {
		servers = append(servers, i.server(i.options.SupportListener, i.support))
	}

	consumeCtx, stopConsume := context.WithCancel(context.Background())
	defer stopConsume()

	g := new(errgroup.Group)
	for _, s := range servers {
		g.Go(func() error {
			log.Infof("Listening on %s", s.Addr)
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listener %s: %w", s.Addr, err)
			}

			return nil
		})
	}

	if i.consume != nil {
		go func() {
			if err := i.consume(consumeCtx); err != nil {
				log.Errorf("Revalidation stream consumer stopped: %v", err)
			}
		}()
	}

	failed := make(chan error, 1)
	go func() { failed <- g.Wait() }()

	select {
	case sig := <-sigs:
		log.Infof("Got shutdown signal %v, shutting down in %s", sig, i.options.WaitForHealthcheckInterval)
		i.healthy.set(false)
		time.Sleep(i.options.WaitForHealthcheckInterval)
		stopConsume()
		i.shutdown(servers)
		return <-failed
	case err := <-failed:
		stopConsume()
		i.shutdown(servers)
		return err
	}
}

// Run edgerender. It returns when a listener fails, or after a graceful
// shutdown on SIGTERM or SIGINT.
func Run(o Options) error {
	initLog(o)

	if o.OpenTelemetry == nil {
		o.OpenTelemetry = &otel.Options{ServiceName: "edgerender"}
	}

	shutdownTracing, err := otel.Init(context.Background(), o.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Errorf("Failed to shut down tracing: %v", err)
		}
	}()

	i, err := newInstance(o)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	return i.run(sigs)
}
