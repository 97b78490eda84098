package indicator

import (
	"context"
	"sync"

	"github.com/daviddao/phishbeads/internal/bloom"
	"github.com/daviddao/phishbeads/internal/metrics"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
)

// Lookuper finds indicators by fingerprint.
type Lookuper interface {
	Lookup(ctx context.Context, fp string) ([]types.IndicatorRef, error)
}

// Resolver answers whether a fingerprint is a known indicator. A valid
// filter short-circuits definite misses; everything else goes to the store.
type Resolver struct {
	store  Lookuper
	logger *zap.Logger

	mu     sync.RWMutex
	filter *bloom.Filter
}

// NewResolver returns a Resolver with no filter.
func NewResolver(store Lookuper, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// SetFilter installs f as prefilter. A nil or invalid filter disables
// prefiltering.
func (r *Resolver) SetFilter(f *bloom.Filter) {
	if f != nil && !f.Valid() {
		r.logger.Warn("ignoring invalid filter, using exact lookup",
			zap.Int("bits", f.NumBits()), zap.Int("indices", f.NumIndices()))
		f = nil
	}
	r.mu.Lock()
	r.filter = f
	r.mu.Unlock()
}

// Filter returns the installed filter, or nil.
func (r *Resolver) Filter() *bloom.Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter
}

// Resolve returns the indicator matching fp, or nil. A feed indicator wins
// over a test indicator with the same fingerprint, domains before emails,
// so a test entry never hides a reportable detection.
func (r *Resolver) Resolve(ctx context.Context, fp string) (*types.IndicatorRef, error) {
	if f := r.Filter(); f != nil {
		if !f.Contains(fp) {
			metrics.FilterChecks.WithLabelValues("miss").Inc()
			return nil, nil
		}
		metrics.FilterChecks.WithLabelValues("maybe").Inc()
	}
	refs, err := r.store.Lookup(ctx, fp)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	best := refs[0]
	for _, ref := range refs[1:] {
		if kindRank(ref.Kind) < kindRank(best.Kind) {
			best = ref
		}
	}
	return &best, nil
}

func kindRank(k types.Kind) int {
	switch k {
	case types.KindDomain:
		return 0
	case types.KindEmail:
		return 1
	case types.KindTest:
		return 2
	default:
		return 3
	}
}

// BuildFilter builds a filter over every fingerprint in the store. It
// returns nil when the parameters produce an invalid filter.
func (s *Store) BuildFilter(ctx context.Context, fpRate float64) (*bloom.Filter, error) {
	fps, err := s.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}
	f := bloom.New(len(fps), fpRate)
	if !f.Valid() {
		s.logger.Warn("filter parameters invalid, falling back to exact lookup",
			zap.Int("entries", len(fps)), zap.Float64("fp_rate", fpRate))
		return nil, nil
	}
	for _, fp := range fps {
		f.Add(fp)
	}
	return f, nil
}
