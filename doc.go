/*
Package edgerender provides the edge layer in front of a server side
rendering application: it classifies the incoming requests against the
route table produced by the application's build step, applies the
configured redirects and rewrites, runs the user middleware, and serves
prerendered pages from an incremental cache that is revalidated in the
background.

# Quickstart

Build the executable:

	go build ./cmd/edgerender

Start it with the manifest of the build step and the address of the
renderer:

	edgerender -manifest-file .build/manifest.yaml -renderer-url http://localhost:3000 &
	curl localhost:9090/blog/first

# Request Processing

Every request is converted into an event by the adapter package, and
goes through the pipeline of the proxy package:

  - the event is classified against the compiled route table
  - the header, the redirect and the locale redirect passes may answer
    with a redirect
  - the middleware may answer, rewrite, or override request headers
  - the rewrite passes resolve the page to render
  - the incremental cache answers HIT or STALE when it has an entry, and
    queues the revalidation of the stale entries
  - otherwise the renderer answers, or, for the external rewrites, the
    rewritten destination

The result is converted back by the adapter, which also emits the
diagnostic headers, e.g. X-Edge-Request-Id and X-Cache-Status.

# Stores

The cache entries, the tag invalidation timestamps and the revalidation
queue can be kept in memory, or in external stores:

  - cache: leveldb, redis, s3
  - tags: sqlite, valkey
  - queue: redis streams

The external stores are guarded by circuit breakers. When a store fails,
or its breaker is open, the request is served as a cache miss.

# Manifest

The manifest is reloaded when the file changes, if -watch-manifest is
set. A manifest that fails to compile is rejected, and the previous one
stays in use. See the manifest package for the format.

# Support Listener

The support listener serves the Prometheus metrics on /metrics, the
health check on /healthz, and the compiled route table on /routes. On
SIGTERM, the health check starts failing, and the listeners are shut
down after -wait-for-healthcheck-interval.

# Configuration

The options can be set as command line flags, or in a YAML file passed
with -config-file. The flags override the file. The passwords and the
revalidation secret can be set from the environment, too. See the config
package.
*/
package edgerender
