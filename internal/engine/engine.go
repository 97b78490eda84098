// Package engine runs the inspection pipeline: it dissects an email,
// records every candidate in the tag ledger and turns the matches into a
// verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/dissect"
	"github.com/daviddao/phishbeads/internal/ledger"
	"github.com/daviddao/phishbeads/internal/metrics"
	"github.com/daviddao/phishbeads/internal/types"
	"go.uber.org/zap"
)

// ErrNoMessageID is returned for messages without a Message-ID header,
// such as unsent drafts.
var ErrNoMessageID = errors.New("message has no message-id")

// DemoIndication is the indication added by test mode.
const DemoIndication = "DEMO mode -- not based on detection!"

// Verdict is the outcome of inspecting one email.
type Verdict struct {
	MessageID string            `json:"message_id"`
	Label     string            `json:"label,omitempty"`
	Status    types.EmailStatus `json:"status"`
	// Indications are the summary lines, e.g. "Links (1/3)". Empty for
	// cached verdicts.
	Indications []string `json:"indications,omitempty"`
	// Incidents are the stored incidents of the email.
	Incidents []types.Indication `json:"incidents,omitempty"`
	Cached    bool               `json:"cached,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Suspicious reports whether the verdict flags the email.
func (v *Verdict) Suspicious() bool {
	return v.Status == types.StatusSuspicious
}

// Notifier receives fresh verdicts.
type Notifier interface {
	Notify(ctx context.Context, messageID string, v *Verdict) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, messageID string, v *Verdict) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, messageID string, v *Verdict) error {
	return f(ctx, messageID, v)
}

// TestMode configures synthetic demo detections.
type TestMode struct {
	Enabled bool
	// Rate is the percentage of clean emails flagged in demo mode.
	Rate int
}

// Options configures an Engine.
type Options struct {
	Test      TestMode
	Notifiers []Notifier
	// Rand returns a number in [0,1); defaults to math/rand.
	Rand func() float64
}

// InspectOptions tunes one inspection.
type InspectOptions struct {
	// Force ignores a cached verdict.
	Force bool
}

// Engine inspects emails.
type Engine struct {
	db     *db.DB
	ledger *ledger.Ledger
	opts   Options
	logger *zap.Logger
}

// New returns an Engine.
func New(d *db.DB, l *ledger.Ledger, opts Options, logger *zap.Logger) *Engine {
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	return &Engine{db: d, ledger: l, opts: opts, logger: logger}
}

// AddNotifier registers another verdict sink.
func (e *Engine) AddNotifier(n Notifier) {
	e.opts.Notifiers = append(e.opts.Notifiers, n)
}

// Inspect returns the verdict for msg, reusing a cached one unless
// opts.Force is set.
func (e *Engine) Inspect(ctx context.Context, msg *dissect.Message, opts InspectOptions) (*Verdict, error) {
	messageID := msg.MessageID()
	if messageID == "" {
		e.logger.Debug("skipping message without message-id", zap.String("from", msg.Get("from")))
		return nil, ErrNoMessageID
	}
	log := e.logger.With(zap.String("message_id", messageID))

	if !opts.Force {
		cached, err := e.cached(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			metrics.InspectionsTotal.WithLabelValues("cached").Inc()
			return cached, nil
		}
	}

	cands := dissect.Dissect(msg, log)
	label := msg.Label()
	email, err := e.db.GetOrCreateEmail(ctx, messageID, label)
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", messageID, err)
	}

	tally := newTally()
	for _, c := range cands {
		tag, err := e.ledger.RecordCandidate(ctx, email.ID, c)
		if err != nil {
			return nil, fmt.Errorf("record %s %q: %w", c.Type, c.Raw, err)
		}
		tally.add(c, tag.Resolved())
	}

	v := &Verdict{MessageID: messageID, Label: email.Label, Indications: tally.lines(), Timestamp: db.Now()}
	if len(v.Indications) == 0 && e.opts.Test.Enabled && e.opts.Rand() < float64(e.opts.Test.Rate)/100 {
		v.Indications = append(v.Indications, DemoIndication)
	}
	v.Status = types.StatusClean
	if len(v.Indications) > 0 {
		v.Status = types.StatusSuspicious
	}

	if err := e.db.SetEmailStatus(ctx, email.ID, v.Status, v.Timestamp); err != nil {
		return nil, fmt.Errorf("store verdict: %w", err)
	}
	if v.Incidents, err = e.db.Indications(ctx, messageID); err != nil {
		return nil, fmt.Errorf("load indications: %w", err)
	}

	metrics.InspectionsTotal.WithLabelValues(v.Status.String()).Inc()
	log.Info("email inspected",
		zap.Stringer("status", v.Status),
		zap.Int("candidates", len(cands)),
		zap.Strings("indications", v.Indications))

	for _, n := range e.opts.Notifiers {
		if err := n.Notify(ctx, messageID, v); err != nil {
			log.Warn("notifier failed", zap.Error(err))
		}
	}
	return v, nil
}

func (e *Engine) cached(ctx context.Context, messageID string) (*Verdict, error) {
	email, err := e.db.GetEmail(ctx, messageID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", messageID, err)
	}
	if email.Status == types.StatusUnknown {
		return nil, nil
	}
	incidents, err := e.db.Indications(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load indications: %w", err)
	}
	return &Verdict{
		MessageID: messageID,
		Label:     email.Label,
		Status:    email.Status,
		Incidents: incidents,
		Cached:    true,
		Timestamp: email.Timestamp,
	}, nil
}

// Status returns the stored verdict of an email, or db.ErrNotFound.
func (e *Engine) Status(ctx context.Context, messageID string) (*Verdict, error) {
	email, err := e.db.GetEmail(ctx, messageID)
	if err != nil {
		return nil, err
	}
	incidents, err := e.db.Indications(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &Verdict{
		MessageID: messageID,
		Label:     email.Label,
		Status:    email.Status,
		Incidents: incidents,
		Cached:    true,
		Timestamp: email.Timestamp,
	}, nil
}

// Forget deletes an email with its tags and incidents. It returns false if
// the email was unknown.
func (e *Engine) Forget(ctx context.Context, messageID string) (bool, error) {
	return e.db.DeleteEmail(ctx, messageID)
}
