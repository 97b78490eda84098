// Package indicator stores known-bad fingerprints and resolves candidate
// fingerprints against them.
package indicator

import (
	"context"
	"fmt"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/fingerprint"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
)

// Store is the indicator table.
type Store struct {
	db     *db.DB
	logger *zap.Logger
}

// NewStore returns a Store backed by d.
func NewStore(d *db.DB, logger *zap.Logger) *Store {
	return &Store{db: d, logger: logger}
}

// BulkLoad inserts fingerprints of one kind. Per-entry failures are counted
// in the result and logged; they never abort the batch.
func (s *Store) BulkLoad(ctx context.Context, fingerprints []string, kind types.Kind) (db.LoadResult, error) {
	res, err := s.db.InsertIndicators(ctx, fingerprints, kind)
	if err != nil {
		return res, fmt.Errorf("load %s indicators: %w", kind, err)
	}
	s.logFailures(res)
	return res, nil
}

// Lookup returns every indicator with the given fingerprint.
func (s *Store) Lookup(ctx context.Context, fp string) ([]types.IndicatorRef, error) {
	return s.db.LookupIndicator(ctx, fp)
}

// Refresh replaces all non-test indicators with the given lists.
func (s *Store) Refresh(ctx context.Context, domains, emails []string) (db.LoadResult, error) {
	res, err := s.db.RefreshIndicators(ctx, map[types.Kind][]string{
		types.KindDomain: domains,
		types.KindEmail:  emails,
	})
	if err != nil {
		return res, fmt.Errorf("refresh indicators: %w", err)
	}
	s.logFailures(res)
	return res, nil
}

// AddTest fingerprints raw strings and stores them as test indicators.
func (s *Store) AddTest(ctx context.Context, raws ...string) (db.LoadResult, error) {
	fps := make([]string, 0, len(raws))
	for _, raw := range raws {
		fps = append(fps, fingerprint.Sum(raw))
	}
	return s.BulkLoad(ctx, fps, types.KindTest)
}

// Fingerprints returns every stored fingerprint.
func (s *Store) Fingerprints(ctx context.Context) ([]string, error) {
	return s.db.IndicatorFingerprints(ctx)
}

func (s *Store) logFailures(res db.LoadResult) {
	for _, err := range res.Errors {
		s.logger.Warn("indicator skipped", zap.Error(err))
	}
}
