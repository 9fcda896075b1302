package sync

import (
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolution is the arbiter's verdict for a conflicted path.
type Resolution string

const (
	UseLocal  Resolution = "USE_LOCAL"
	UseServer Resolution = "USE_SERVER"
	UseMerged Resolution = "USE_MERGED"
	Cancelled Resolution = "CANCELLED"
)

const (
	resolvedGracePeriod = 15 * time.Second
	uploadedGracePeriod = 10 * time.Second
	graceWindowSize     = 1024
)

// ResolverFunc lets an interactive front end decide conflicts. Without one
// the arbiter applies last-write-wins by uploading the local copy.
type ResolverFunc func(path string) Resolution

// Arbiter serializes conflict resolution per path and suppresses the
// ping-pong loops the push channel would otherwise cause: a freshly
// resolved or freshly uploaded path gets a grace window during which repeat
// conflicts are dropped.
type Arbiter struct {
	resolver ResolverFunc
	inFlight mapset.Set[string]
	resolved *expirable.LRU[string, time.Time]
	uploaded *expirable.LRU[string, time.Time]
}

func NewArbiter(resolver ResolverFunc) *Arbiter {
	return &Arbiter{
		resolver: resolver,
		inFlight: mapset.NewSet[string](),
		resolved: expirable.NewLRU[string, time.Time](graceWindowSize, nil, resolvedGracePeriod),
		uploaded: expirable.NewLRU[string, time.Time](graceWindowSize, nil, uploadedGracePeriod),
	}
}

// Resolve decides one conflict. Returns Cancelled when the path is inside a
// grace window or a resolution for it is already running.
func (a *Arbiter) Resolve(path string) Resolution {
	if _, ok := a.resolved.Get(path); ok {
		slog.Debug("arbiter skip, recently resolved", "path", path)
		return Cancelled
	}
	if _, ok := a.uploaded.Get(path); ok {
		slog.Debug("arbiter skip, recently uploaded", "path", path)
		return Cancelled
	}

	// single-flight per path
	if !a.inFlight.Add(path) {
		slog.Debug("arbiter skip, resolution in flight", "path", path)
		return Cancelled
	}
	defer a.inFlight.Remove(path)

	decision := UseLocal
	if a.resolver != nil {
		decision = a.resolver(path)
	}

	if decision != Cancelled {
		a.resolved.Add(path, time.Now())
	}

	slog.Info("arbiter resolved", "path", path, "decision", decision)
	return decision
}

// MarkUploaded opens the post-upload grace window for a path.
func (a *Arbiter) MarkUploaded(path string) {
	a.uploaded.Add(path, time.Now())
}
