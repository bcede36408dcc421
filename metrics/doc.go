/*
Package metrics implements the collection of the edge metrics with
Prometheus.

The collected metrics include the classification of the cache lookups
(HIT, STALE, MISS, ERROR), the failures of the external stores, the
outcome of the revalidation jobs, the duration of the pipeline phases and
the total request processing time.

To enable metrics, they need to be enabled and a support listener
address set. In this case the current values can be scraped on the
/metrics path of the support listener.
*/
package metrics
