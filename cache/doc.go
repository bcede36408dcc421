/*
Package cache implements the incremental cache interceptor.

Pre-renderable paths are looked up in an external store holding the
artifacts rendered earlier. An artifact is served directly when found and
not invalidated by one of its tags. Its freshness decides the
cache-control header and the classification reported in x-cache-status:

	revalidate 0      ERROR  private, no-cache, no-store, max-age=0, must-revalidate
	revalidate false  HIT    s-maxage=31536000, stale-while-revalidate=2592000
	otherwise         HIT    s-maxage=R-A, stale-while-revalidate=2592000
	                  STALE  s-maxage=1, when R-A <= 1, and a revalidation job is enqueued

where R is the revalidation window and A the age of the artifact, in
seconds.

Failures of the stores fail open: a failing cache store is a miss, a
failing tag store reports no invalidation. The stores are guarded by
circuit breakers, so an unavailable store does not slow down every
request.
*/
package cache
