/*
Package circuit implements circuit breakers guarding the external stores:
the cache store, the tag store and the revalidation queue.

When a store keeps failing, its breaker opens and the calls are not made
at all until the breaker timeout expires. The callers treat an open
breaker like a failed call, they fail open: a cache lookup counts as a
miss, a tag query as "not revalidated", and the request is served without
waiting for the unavailable store.

# Breaker types

Consecutive breakers open after a number of consecutive failures. After
the timeout, a limited number of calls is let through in half-open state,
and when they succeed, the breaker closes again.

Disabled breakers always allow the calls.

# Settings

Breakers are configured per store name. Settings with an empty store name
serve as defaults for the stores without own settings:

	-store-breaker type=consecutive,failures=5,timeout=10s
	-store-breaker store=tags,type=consecutive,failures=3,timeout=1m
	-store-breaker store=queue,type=disabled
*/
package circuit
