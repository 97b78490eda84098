// Package incident dispatches pending incidents to the node and reconciles
// unresolved tags when new indicators arrive.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/metrics"
	"github.com/daviddao/phishbeads/internal/transport"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter delivers one report.
type Submitter interface {
	SubmitIncident(ctx context.Context, r transport.Report) error
}

// Resolver maps a fingerprint to an indicator, or nil.
type Resolver interface {
	Resolve(ctx context.Context, fp string) (*types.IndicatorRef, error)
}

// Options configures a Queue.
type Options struct {
	// Contact is sent as target_contact with every report.
	Contact string
	// WithTest includes incidents of test indicators in dispatch.
	WithTest bool
	// Concurrency bounds in-flight submissions; <= 0 means unbounded.
	Concurrency int
}

// Queue is the incident report queue.
type Queue struct {
	db        *db.DB
	submitter Submitter
	resolver  Resolver
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a Queue.
func New(d *db.DB, submitter Submitter, resolver Resolver, opts Options, logger *zap.Logger) *Queue {
	return &Queue{
		db:        d,
		submitter: submitter,
		resolver:  resolver,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// DispatchResult summarizes one dispatch run.
type DispatchResult struct {
	Attempted int `json:"attempted"`
	Reported  int `json:"reported"`
	Failed    int `json:"failed"`
}

// Dispatch submits every pending incident. Each incident is marked
// in-transit first; once all submissions have finished, successes become
// reported and failures return to pending. A failed submission never
// cancels the others.
func (q *Queue) Dispatch(ctx context.Context) (*DispatchResult, error) {
	now := q.now().Unix()
	if err := q.db.SetMetaInt(ctx, db.MetaReportsLastTry, now); err != nil {
		return nil, fmt.Errorf("record report attempt: %w", err)
	}

	pending, err := q.db.PendingIncidents(ctx, q.opts.WithTest)
	if err != nil {
		return nil, fmt.Errorf("list pending incidents: %w", err)
	}

	var batch []*types.IncidentDetail
	for _, inc := range pending {
		if err := q.db.SetReported(ctx, inc.ID, types.ReportPending, types.ReportInTransit); err != nil {
			if errors.Is(err, db.ErrInvalidTransition) {
				q.logger.Debug("incident claimed elsewhere", zap.Int64("incident_id", inc.ID))
				continue
			}
			q.revert(batch)
			return nil, err
		}
		batch = append(batch, inc)
	}

	res := &DispatchResult{Attempted: len(batch)}
	if len(batch) == 0 {
		return res, nil
	}
	if err := q.db.SetMetaInt(ctx, db.MetaReportsLast, now); err != nil {
		q.logger.Warn("record report time", zap.Error(err))
	}

	outcome := make([]error, len(batch))
	var g errgroup.Group
	if q.opts.Concurrency > 0 {
		g.SetLimit(q.opts.Concurrency)
	}
	for i, inc := range batch {
		g.Go(func() error {
			outcome[i] = q.submitter.SubmitIncident(ctx, transport.Report{
				Type:          inc.Type,
				Indicator:     inc.Raw,
				Hashed:        inc.Fingerprint,
				TargetContact: q.opts.Contact,
			})
			return nil
		})
	}
	g.Wait()

	// Settle with a context that survives cancellation so nothing stays
	// in-transit.
	settle := context.WithoutCancel(ctx)
	for i, inc := range batch {
		next := types.ReportDone
		if outcome[i] != nil {
			next = types.ReportPending
			res.Failed++
			metrics.ReportsTotal.WithLabelValues("failure").Inc()
			q.logger.Error("incident report failed",
				zap.Int64("incident_id", inc.ID),
				zap.String("type", inc.Type),
				zap.Error(outcome[i]))
		} else {
			res.Reported++
			metrics.ReportsTotal.WithLabelValues("success").Inc()
			q.logger.Info("incident reported", zap.Int64("incident_id", inc.ID))
		}
		if err := q.db.SetReported(settle, inc.ID, types.ReportInTransit, next); err != nil {
			q.logger.Error("settle incident", zap.Int64("incident_id", inc.ID), zap.Error(err))
		}
	}
	return res, nil
}

func (q *Queue) revert(batch []*types.IncidentDetail) {
	ctx := context.Background()
	for _, inc := range batch {
		if err := q.db.SetReported(ctx, inc.ID, types.ReportInTransit, types.ReportPending); err != nil {
			q.logger.Error("revert incident", zap.Int64("incident_id", inc.ID), zap.Error(err))
		}
	}
}

// RescanResult lists the effect of a rescan.
type RescanResult struct {
	Checked    int      `json:"checked"`
	Resolved   int      `json:"resolved"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

// Rescan re-checks every unresolved tag. Newly matching tags are resolved,
// which records their pending incidents. The owning emails lose their
// cached verdict and are returned in first-seen order without duplicates.
func (q *Queue) Rescan(ctx context.Context) (*RescanResult, error) {
	tags, err := q.db.UnresolvedTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved tags: %w", err)
	}

	res := &RescanResult{Checked: len(tags)}
	seen := make(map[int64]bool)
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ref, err := q.resolver.Resolve(ctx, tag.Fingerprint)
		if err != nil {
			return res, fmt.Errorf("resolve tag %d: %w", tag.ID, err)
		}
		if ref == nil {
			continue
		}
		ok, err := q.db.ResolveTag(ctx, tag.ID, ref.ID, db.Now())
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		res.Resolved++
		metrics.IncidentsCreated.WithLabelValues("rescan").Inc()
		q.logger.Info("tag resolved by rescan",
			zap.Int64("tag_id", tag.ID),
			zap.String("raw", tag.Raw),
			zap.Stringer("kind", ref.Kind))

		if seen[tag.EmailID] {
			continue
		}
		seen[tag.EmailID] = true
		e, err := q.db.GetEmailByID(ctx, tag.EmailID)
		if err != nil {
			q.logger.Warn("owning email missing", zap.Int64("email_id", tag.EmailID), zap.Error(err))
			continue
		}
		// Drop the cached verdict so the next inspection recomputes it.
		if err := q.db.SetEmailStatus(ctx, e.ID, types.StatusUnknown, 0); err != nil {
			return res, err
		}
		res.MessageIDs = append(res.MessageIDs, e.MessageID)
	}
	return res, nil
}

// RecoverInTransit returns incidents left in-transit by an interrupted run
// to pending.
func (q *Queue) RecoverInTransit(ctx context.Context) (int, error) {
	n, err := q.db.ResetInTransit(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover in-transit incidents: %w", err)
	}
	if n > 0 {
		q.logger.Warn("recovered in-transit incidents", zap.Int("count", n))
	}
	return n, nil
}
