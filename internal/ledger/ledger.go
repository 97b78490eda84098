// Package ledger records the candidates examined for each email and their
// resolution against the indicator store.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/dissect"
	"github.com/daviddao/phishbeads/internal/fingerprint"
	"github.com/daviddao/phishbeads/internal/metrics"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
)

// Resolver maps a fingerprint to an indicator, or nil.
type Resolver interface {
	Resolve(ctx context.Context, fp string) (*types.IndicatorRef, error)
}

// Ledger is the tag table.
type Ledger struct {
	db       *db.DB
	resolver Resolver
	logger   *zap.Logger
}

// New returns a Ledger.
func New(d *db.DB, resolver Resolver, logger *zap.Logger) *Ledger {
	return &Ledger{db: d, resolver: resolver, logger: logger}
}

// RecordCandidate returns the tag of (email, raw, type), creating and
// resolving it if it does not exist yet. An existing tag is returned
// unchanged. A newly resolved tag gets its incident in the same
// transaction.
func (l *Ledger) RecordCandidate(ctx context.Context, emailID int64, c dissect.Candidate) (*types.Tag, error) {
	metrics.CandidatesTotal.WithLabelValues(c.Type).Inc()

	existing, err := l.db.GetTag(ctx, emailID, c.Raw, c.Type)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("get tag: %w", err)
	}

	fp := fingerprint.Sum(c.Raw)
	tag := &types.Tag{EmailID: emailID, Raw: c.Raw, Type: c.Type, Fingerprint: fp}
	ref, err := l.resolver.Resolve(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", c.Raw, err)
	}
	if ref != nil {
		tag.IndicatorID = &ref.ID
	}

	stored, err := l.db.InsertTag(ctx, tag, db.Now())
	if err != nil {
		return nil, err
	}
	if ref != nil && stored.IndicatorID != nil && *stored.IndicatorID == ref.ID {
		metrics.IncidentsCreated.WithLabelValues("inspect").Inc()
		l.logger.Info("indicator matched",
			zap.Int64("email_id", emailID),
			zap.String("raw", c.Raw),
			zap.String("type", c.Type),
			zap.Stringer("kind", ref.Kind))
	}
	return stored, nil
}

// UnresolvedTags returns every tag without an indicator.
func (l *Ledger) UnresolvedTags(ctx context.Context) ([]*types.Tag, error) {
	return l.db.UnresolvedTags(ctx)
}

// Resolve attaches an indicator to a still-unresolved tag and records its
// incident. It returns false if the tag was already resolved.
func (l *Ledger) Resolve(ctx context.Context, tagID, indicatorID int64) (bool, error) {
	return l.db.ResolveTag(ctx, tagID, indicatorID, db.Now())
}

// TagsForEmail returns the tags recorded for an email.
func (l *Ledger) TagsForEmail(ctx context.Context, emailID int64) ([]*types.Tag, error) {
	return l.db.TagsForEmail(ctx, emailID)
}
