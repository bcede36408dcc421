package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/edgerender"
	enet "github.com/zalando/edgerender/net"
	"github.com/zalando/edgerender/otel"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address                    string        `yaml:"address"`
	SupportListener            string        `yaml:"support-listener"`
	PrintVersion               bool          `yaml:"version"`
	WaitForHealthcheckInterval time.Duration `yaml:"wait-for-healthcheck-interval"`
	SyncBackground             bool          `yaml:"sync-background"`
	BackgroundTimeout          time.Duration `yaml:"background-timeout"`

	// ingress:
	NormalizeHost  bool      `yaml:"normalize-host"`
	ForwardedFor   bool      `yaml:"forwarded-for"`
	ForwardedProto string    `yaml:"forwarded-proto"`
	TrustedProxies *listFlag `yaml:"trusted-proxies"`

	// routing:
	ManifestFile  string `yaml:"manifest-file"`
	WatchManifest bool   `yaml:"watch-manifest"`

	// renderer:
	RendererURL             string        `yaml:"renderer-url"`
	BackendTimeout          time.Duration `yaml:"backend-timeout"`
	DisableExternalRewrites bool          `yaml:"disable-external-rewrites"`

	// middleware:
	MiddlewareURL     string        `yaml:"middleware-url"`
	MiddlewareTimeout time.Duration `yaml:"middleware-timeout"`

	// cache:
	CacheBackend string        `yaml:"cache-backend"`
	CacheTTL     time.Duration `yaml:"cache-ttl"`
	LevelDBPath  string        `yaml:"leveldb-path"`
	S3Bucket     string        `yaml:"s3-bucket"`
	S3Prefix     string        `yaml:"s3-prefix"`
	S3Region     string        `yaml:"s3-region"`
	S3Endpoint   string        `yaml:"s3-endpoint"`

	// tags:
	TagBackend string `yaml:"tag-backend"`
	SQLitePath string `yaml:"sqlite-path"`

	// revalidation:
	QueueBackend        string        `yaml:"queue-backend"`
	QueueShards         int           `yaml:"queue-shards"`
	QueueBuffer         int           `yaml:"queue-buffer"`
	RevalidationTimeout time.Duration `yaml:"revalidation-timeout"`
	RevalidationSecret  string        `yaml:"revalidation-secret"`

	// stores:
	RedisAddrs     *listFlag    `yaml:"redis-addrs"`
	RedisPassword  string       `yaml:"redis-password"`
	ValkeyAddrs    *listFlag    `yaml:"valkey-addrs"`
	ValkeyPassword string       `yaml:"valkey-password"`
	StoreBreakers  breakerFlags `yaml:"store-breaker"`

	// logging, metrics, tracing:
	ApplicationLogLevel       log.Level     `yaml:"-"`
	ApplicationLogLevelString string        `yaml:"application-log-level"`
	ApplicationLogPrefix      string        `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool          `yaml:"application-log-json-enabled"`
	AccessLogDisabled         bool          `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool          `yaml:"access-log-json-enabled"`
	EnablePrometheusMetrics   bool          `yaml:"enable-prometheus-metrics"`
	MetricsPrefix             string        `yaml:"metrics-prefix"`
	EnableRuntimeMetrics      bool          `yaml:"runtime-metrics"`
	OpenTelemetry             *otel.Options `yaml:"opentelemetry"`

	// server:
	ReadTimeoutServer       time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer      time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer       time.Duration `yaml:"idle-timeout-server"`
}

const (
	defaultApplicationLogPrefix = "[APP]"
	defaultMetricsPrefix        = "edgerender."

	redisPasswordEnv       = "EDGERENDER_REDIS_PASSWORD"
	valkeyPasswordEnv      = "EDGERENDER_VALKEY_PASSWORD"
	revalidationSecretEnv  = "EDGERENDER_REVALIDATION_SECRET"
	storeBreakerUsage      = "set the circuit breaker of a store, e.g. type=consecutive,store=cache,failures=5,timeout=10s,half-open-requests=1. Stores: cache, tags, renderer, relay. Can be repeated"
	openTelemetryUsage     = "OpenTelemetry tracing configuration in YAML format, e.g. {serviceName: edgerender, sampleRatio: 0.1}. The exporter is selected with the OTEL_* environment variables"
	cacheBackendUsage      = "backend of the cache store: none, memory, leveldb, redis or s3"
	tagBackendUsage        = "backend of the tag store: memory, sqlite or valkey"
	queueBackendUsage      = "backend of the revalidation queue: memory or redis. The redis queue shares the jobs between the instances"
	revalidationSecretHelp = "credential sent with the revalidation requests. Use " + revalidationSecretEnv + " environment variable or 'revalidation-secret' key in config file to set it"
)

var (
	cacheBackends = map[string]bool{
		edgerender.NoBackend:      true,
		edgerender.MemoryBackend:  true,
		edgerender.LevelDBBackend: true,
		edgerender.RedisBackend:   true,
		edgerender.S3Backend:      true,
	}

	tagBackends = map[string]bool{
		edgerender.MemoryBackend: true,
		edgerender.SQLiteBackend: true,
		edgerender.ValkeyBackend: true,
	}

	queueBackends = map[string]bool{
		edgerender.MemoryBackend: true,
		edgerender.RedisBackend:  true,
	}
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.RedisAddrs = commaListFlag()
	cfg.ValkeyAddrs = commaListFlag()
	cfg.TrustedProxies = commaListFlag()

	flag := flag.NewFlagSet("", flag.ContinueOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that edgerender should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics, /healthz and /routes endpoints. An empty value disables support endpoint.")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print edgerender version")
	flag.DurationVar(&cfg.WaitForHealthcheckInterval, "wait-for-healthcheck-interval", 45*time.Second, "period waiting to become unhealthy in the loadbalancer pool in front of edgerender before shutting down")
	flag.BoolVar(&cfg.SyncBackground, "sync-background", false, "await the deferred work, e.g. enqueueing revalidations, before responding")
	flag.DurationVar(&cfg.BackgroundTimeout, "background-timeout", 30*time.Second, "limits the duration of the deferred work")

	// ingress:
	flag.BoolVar(&cfg.NormalizeHost, "normalize-host", false, "converts request host to lowercase and removes port and trailing dot if any")
	flag.BoolVar(&cfg.ForwardedFor, "forwarded-for", false, "appends the client address to the X-Forwarded-For header")
	flag.StringVar(&cfg.ForwardedProto, "forwarded-proto", "", "sets the X-Forwarded-Proto header of the incoming requests, e.g. https when TLS is terminated in front of edgerender")
	flag.Var(cfg.TrustedProxies, "trusted-proxies", "comma separated CIDRs allowed to send X-Forwarded-* headers, the headers of other clients are dropped. When empty, every client is trusted")

	// routing:
	flag.StringVar(&cfg.ManifestFile, "manifest-file", "", "path of the manifest with the routes, rewrites, prerender list and i18n configuration (yaml or json)")
	flag.BoolVar(&cfg.WatchManifest, "watch-manifest", false, "reload the manifest when the file changes")

	// renderer:
	flag.StringVar(&cfg.RendererURL, "renderer-url", "", "base URL of the renderer")
	flag.DurationVar(&cfg.BackendTimeout, "backend-timeout", 60*time.Second, "timeout of the requests to the renderer and the external rewrite destinations")
	flag.BoolVar(&cfg.DisableExternalRewrites, "disable-external-rewrites", false, "answer rewrites to another origin with the error page instead of relaying them")

	// middleware:
	flag.StringVar(&cfg.MiddlewareURL, "middleware-url", "", "endpoint of the user middleware, the middleware is disabled when empty")
	flag.DurationVar(&cfg.MiddlewareTimeout, "middleware-timeout", 10*time.Second, "timeout of the requests to the user middleware")

	// cache:
	flag.StringVar(&cfg.CacheBackend, "cache-backend", edgerender.MemoryBackend, cacheBackendUsage)
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 0, "expiry of the entries in the redis cache store, zero keeps them until replaced")
	flag.StringVar(&cfg.LevelDBPath, "leveldb-path", "", "directory of the leveldb cache store")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", "", "bucket of the s3 cache store")
	flag.StringVar(&cfg.S3Prefix, "s3-prefix", "", "object key prefix of the s3 cache store")
	flag.StringVar(&cfg.S3Region, "s3-region", "", "region of the s3 cache store")
	flag.StringVar(&cfg.S3Endpoint, "s3-endpoint", "", "endpoint of an s3 compatible storage")

	// tags:
	flag.StringVar(&cfg.TagBackend, "tag-backend", edgerender.MemoryBackend, tagBackendUsage)
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", "", "database file of the sqlite tag store")

	// revalidation:
	flag.StringVar(&cfg.QueueBackend, "queue-backend", edgerender.MemoryBackend, queueBackendUsage)
	flag.IntVar(&cfg.QueueShards, "queue-shards", 8, "number of revalidation workers, the jobs of a path are handled by the same worker")
	flag.IntVar(&cfg.QueueBuffer, "queue-buffer", 256, "number of revalidation jobs waiting per worker before new jobs are rejected")
	flag.DurationVar(&cfg.RevalidationTimeout, "revalidation-timeout", 30*time.Second, "timeout of a single revalidation request")
	flag.StringVar(&cfg.RevalidationSecret, "revalidation-secret", "", revalidationSecretHelp)

	// stores:
	flag.Var(cfg.RedisAddrs, "redis-addrs", "redis shard addresses as comma separated list, used by the redis cache store and queue.\nUse "+redisPasswordEnv+" environment variable or 'redis-password' key in config file to set redis password")
	flag.Var(cfg.ValkeyAddrs, "valkey-addrs", "valkey shard addresses as comma separated list, used by the valkey tag store.\nUse "+valkeyPasswordEnv+" environment variable or 'valkey-password' key in config file to set valkey password")
	flag.Var(&cfg.StoreBreakers, "store-breaker", storeBreakerUsage)

	// logging, metrics, tracing:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.EnablePrometheusMetrics, "enable-prometheus-metrics", true, "collect the metrics with prometheus and serve them on the support listener")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for the metrics names")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime statistics")
	flag.Var(newYamlFlag(&cfg.OpenTelemetry), "opentelemetry", openTelemetryUsage)

	// server:
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", 5*time.Minute, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", 60*time.Second, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if _, err := enet.ParseIPSet(c.TrustedProxies.values); err != nil {
		return fmt.Errorf("invalid trusted-proxies: %w", err)
	}

	if c.ManifestFile == "" {
		return fmt.Errorf("missing manifest-file")
	}

	if c.RendererURL == "" {
		return fmt.Errorf("missing renderer-url")
	}

	if !cacheBackends[c.CacheBackend] {
		return fmt.Errorf("invalid cache-backend: %q", c.CacheBackend)
	}

	if !tagBackends[c.TagBackend] {
		return fmt.Errorf("invalid tag-backend: %q", c.TagBackend)
	}

	if !queueBackends[c.QueueBackend] {
		return fmt.Errorf("invalid queue-backend: %q", c.QueueBackend)
	}

	switch {
	case c.CacheBackend == edgerender.LevelDBBackend && c.LevelDBPath == "":
		return fmt.Errorf("leveldb cache store requires leveldb-path")
	case c.CacheBackend == edgerender.S3Backend && c.S3Bucket == "":
		return fmt.Errorf("s3 cache store requires s3-bucket")
	case c.TagBackend == edgerender.SQLiteBackend && c.SQLitePath == "":
		return fmt.Errorf("sqlite tag store requires sqlite-path")
	case c.TagBackend == edgerender.ValkeyBackend && len(c.ValkeyAddrs.values) == 0:
		return fmt.Errorf("valkey tag store requires valkey-addrs")
	case (c.CacheBackend == edgerender.RedisBackend || c.QueueBackend == edgerender.RedisBackend) && len(c.RedisAddrs.values) == 0:
		return fmt.Errorf("redis backends require redis-addrs")
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ContinueOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		// the command line wins over the config file
		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	c.parseEnv()

	if c.PrintVersion {
		return nil
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	return nil
}

func (c *Config) ToOptions() edgerender.Options {
	return edgerender.Options{
		// generic:
		Address:                    c.Address,
		SupportListener:            c.SupportListener,
		WaitForHealthcheckInterval: c.WaitForHealthcheckInterval,
		SyncBackground:             c.SyncBackground,
		BackgroundTimeout:          c.BackgroundTimeout,

		// ingress:
		NormalizeHost:  c.NormalizeHost,
		ForwardedFor:   c.ForwardedFor,
		ForwardedProto: c.ForwardedProto,
		TrustedProxies: c.TrustedProxies.values,

		// routing:
		ManifestFile:  c.ManifestFile,
		WatchManifest: c.WatchManifest,

		// renderer:
		RendererURL:             c.RendererURL,
		BackendTimeout:          c.BackendTimeout,
		DisableExternalRewrites: c.DisableExternalRewrites,

		// middleware:
		MiddlewareURL:     c.MiddlewareURL,
		MiddlewareTimeout: c.MiddlewareTimeout,

		// cache:
		CacheBackend: c.CacheBackend,
		CacheTTL:     c.CacheTTL,
		LevelDBPath:  c.LevelDBPath,
		S3Bucket:     c.S3Bucket,
		S3Prefix:     c.S3Prefix,
		S3Region:     c.S3Region,
		S3Endpoint:   c.S3Endpoint,

		// tags:
		TagBackend: c.TagBackend,
		SQLitePath: c.SQLitePath,

		// revalidation:
		QueueBackend:        c.QueueBackend,
		QueueShards:         c.QueueShards,
		QueueBuffer:         c.QueueBuffer,
		RevalidationTimeout: c.RevalidationTimeout,
		RevalidationSecret:  c.RevalidationSecret,

		// stores:
		RedisAddrs:     c.RedisAddrs.values,
		RedisPassword:  c.RedisPassword,
		ValkeyAddrs:    c.ValkeyAddrs.values,
		ValkeyPassword: c.ValkeyPassword,
		StoreBreakers:  c.StoreBreakers,

		// logging, metrics, tracing:
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,
		EnablePrometheusMetrics:   c.EnablePrometheusMetrics,
		MetricsPrefix:             c.MetricsPrefix,
		EnableRuntimeMetrics:      c.EnableRuntimeMetrics,
		OpenTelemetry:             c.OpenTelemetry,

		// server:
		ReadTimeoutServer:       c.ReadTimeoutServer,
		ReadHeaderTimeoutServer: c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:      c.WriteTimeoutServer,
		IdleTimeoutServer:       c.IdleTimeoutServer,
	}
}

// parseEnv sets the secrets from the environment, unless set earlier on
// the command line or in the config file.
func (c *Config) parseEnv() {
	if c.RedisPassword == "" {
		c.RedisPassword = os.Getenv(redisPasswordEnv)
	}

	if c.ValkeyPassword == "" {
		c.ValkeyPassword = os.Getenv(valkeyPasswordEnv)
	}

	if c.RevalidationSecret == "" {
		c.RevalidationSecret = os.Getenv(revalidationSecretEnv)
	}
}
