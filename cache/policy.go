package cache

import (
	"fmt"
	"time"
)

// Status classifies a request handled by the cache.
type Status string

const (
	StatusHit   Status = "HIT"
	StatusStale Status = "STALE"
	StatusMiss  Status = "MISS"
	StatusError Status = "ERROR"
)

const (
	// OneYear is the shared max age of artifacts that never expire.
	OneYear = 31536000

	// StaleWhileRevalidate is the window a stale artifact may be served
	// while it is revalidated, 30 days.
	StaleWhileRevalidate = 2592000

	noStore = "private, no-cache, no-store, max-age=0, must-revalidate"
)

// Freshness of a cached artifact.
type Freshness struct {
	Status       Status
	CacheControl string

	// SMaxAge is the shared max age in seconds, 0 for artifacts that
	// must not be stored.
	SMaxAge int
}

// Age returns the age of an artifact rendered at lastModified, unix
// milliseconds. Artifacts from the future have age 0.
func Age(lastModified int64, now time.Time) time.Duration {
	d := now.Sub(time.UnixMilli(lastModified))
	if d < 0 {
		return 0
	}

	return d
}

// Policy computes the freshness of an artifact with the revalidation
// window r and age.
func Policy(r Revalidate, age time.Duration) Freshness {
	switch {
	case r.Never:
		return Freshness{
			Status:       StatusHit,
			SMaxAge:      OneYear,
			CacheControl: sharedMaxAge(OneYear),
		}
	case r.Seconds == 0:
		return Freshness{Status: StatusError, CacheControl: noStore}
	}

	s := max(r.Seconds-int(age/time.Second), 1)
	status := StatusHit
	if s == 1 {
		status = StatusStale
	}

	return Freshness{Status: status, SMaxAge: s, CacheControl: sharedMaxAge(s)}
}

func sharedMaxAge(s int) string {
	return fmt.Sprintf("s-maxage=%d, stale-while-revalidate=%d", s, StaleWhileRevalidate)
}
