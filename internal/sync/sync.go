// Package sync pulls the indicator feed from the node into the local store
// and reconciles previously inspected emails against it.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/phishbeads/internal/bloom"
	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/incident"
	"github.com/daviddao/phishbeads/internal/indicator"
	"github.com/daviddao/phishbeads/internal/metrics"
	"github.com/daviddao/phishbeads/internal/transport"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
)

// Fetcher retrieves indicators from the node.
type Fetcher interface {
	FetchIndicators(ctx context.Context, since int64) (*transport.Indicators, error)
}

// Rescanner reconciles unresolved tags.
type Rescanner interface {
	Rescan(ctx context.Context) (*incident.RescanResult, error)
}

// Options configures a Syncer.
type Options struct {
	// UseFilter enables the membership prefilter.
	UseFilter bool
	// FPRate is the target false-positive rate of the prefilter.
	FPRate float64
	// FilterPath persists the prefilter between runs; empty disables it.
	FilterPath string
}

// Syncer runs feed synchronisations.
type Syncer struct {
	db        *db.DB
	store     *indicator.Store
	resolver  *indicator.Resolver
	fetcher   Fetcher
	rescanner Rescanner
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a Syncer.
func New(d *db.DB, store *indicator.Store, resolver *indicator.Resolver, fetcher Fetcher, rescanner Rescanner, opts Options, logger *zap.Logger) *Syncer {
	return &Syncer{
		db:        d,
		store:     store,
		resolver:  resolver,
		fetcher:   fetcher,
		rescanner: rescanner,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync fetches indicators and stores them. A full sync replaces every
// non-test indicator; otherwise only entries published since the last
// successful sync are added. The store is left untouched when the fetch
// fails.
func (s *Syncer) Sync(ctx context.Context, full bool) (*types.SyncResult, error) {
	result := &types.SyncResult{Full: full}
	now := s.now().Unix()
	if err := s.db.SetMetaInt(ctx, db.MetaSyncLastTry, now); err != nil {
		return nil, fmt.Errorf("record sync attempt: %w", err)
	}
	if full {
		if err := s.db.SetMetaInt(ctx, db.MetaSyncFullTry, now); err != nil {
			return nil, fmt.Errorf("record sync attempt: %w", err)
		}
	}

	var since int64
	if !full {
		var err error
		if since, err = s.db.GetMetaInt(ctx, db.MetaSyncLast); err != nil {
			return nil, err
		}
	}

	feed, err := s.fetcher.FetchIndicators(ctx, since)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("failure").Inc()
		result.Error = err.Error()
		return result, err
	}
	result.Domains = len(feed.Domains)
	result.Emails = len(feed.Emails)

	var load db.LoadResult
	if full {
		if load, err = s.store.Refresh(ctx, feed.Domains, feed.Emails); err != nil {
			return s.fail(result, err)
		}
	} else {
		for _, part := range []struct {
			fps  []string
			kind types.Kind
		}{{feed.Domains, types.KindDomain}, {feed.Emails, types.KindEmail}} {
			r, err := s.store.BulkLoad(ctx, part.fps, part.kind)
			if err != nil {
				return s.fail(result, err)
			}
			load.Inserted += r.Inserted
			load.Failed += r.Failed
		}
	}
	result.Inserted = load.Inserted
	result.Failed = load.Failed

	if err := s.db.SetMetaInt(ctx, db.MetaSyncLast, now); err != nil {
		return s.fail(result, err)
	}

	bits, err := s.RebuildFilter(ctx)
	if err != nil {
		s.logger.Warn("rebuild filter", zap.Error(err))
	}
	result.FilterBits = bits

	rescan, err := s.rescanner.Rescan(ctx)
	if err != nil {
		return s.fail(result, fmt.Errorf("rescan: %w", err))
	}
	result.Resolved = rescan.Resolved
	result.MessageIDs = rescan.MessageIDs

	metrics.SyncRuns.WithLabelValues("success").Inc()
	if st, err := s.db.Stats(ctx); err == nil {
		metrics.IndicatorsLoaded.Set(float64(st.Indicators + st.TestIndicators))
	}
	s.logger.Info("indicators synchronised",
		zap.Bool("full", full),
		zap.Int64("since", since),
		zap.Int("domains", result.Domains),
		zap.Int("emails", result.Emails),
		zap.Int("inserted", result.Inserted),
		zap.Int("resolved", result.Resolved))
	return result, nil
}

func (s *Syncer) fail(result *types.SyncResult, err error) (*types.SyncResult, error) {
	metrics.SyncRuns.WithLabelValues("failure").Inc()
	result.Error = err.Error()
	return result, err
}

// RebuildFilter rebuilds the prefilter from the store, installs it and
// persists it. It returns the filter size in bits, 0 when prefiltering is
// off or the parameters are invalid. Call it after changing indicators
// outside Sync.
func (s *Syncer) RebuildFilter(ctx context.Context) (int, error) {
	if !s.opts.UseFilter {
		return 0, nil
	}
	f, err := s.store.BuildFilter(ctx, s.opts.FPRate)
	if err != nil {
		return 0, err
	}
	s.resolver.SetFilter(f)
	if f == nil {
		if s.opts.FilterPath != "" {
			os.Remove(s.opts.FilterPath)
		}
		return 0, nil
	}
	if s.opts.FilterPath != "" {
		if err := f.Save(s.opts.FilterPath); err != nil {
			return f.NumBits(), err
		}
	}
	return f.NumBits(), nil
}

// RestoreFilter installs the persisted prefilter, if any. A missing file
// is not an error.
func (s *Syncer) RestoreFilter() error {
	if !s.opts.UseFilter || s.opts.FilterPath == "" {
		return nil
	}
	f, err := bloom.Load(s.opts.FilterPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load filter: %w", err)
	}
	s.resolver.SetFilter(f)
	return nil
}
