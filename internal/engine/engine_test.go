package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/dissect"
	"github.com/daviddao/phishbeads/internal/fingerprint"
	"github.com/daviddao/phishbeads/internal/indicator"
	"github.com/daviddao/phishbeads/internal/ledger"
	"github.com/daviddao/phishbeads/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	db     *db.DB
	store  *indicator.Store
	engine *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "phish.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	store := indicator.NewStore(d, zap.NewNop())
	l := ledger.New(d, indicator.NewResolver(store, zap.NewNop()), zap.NewNop())
	return &fixture{db: d, store: store, engine: New(d, l, opts, zap.NewNop())}
}

func (f *fixture) load(t *testing.T, kind types.Kind, raws ...string) {
	t.Helper()
	var fps []string
	for _, r := range raws {
		fps = append(fps, fingerprint.Sum(r))
	}
	_, err := f.store.BulkLoad(context.Background(), fps, kind)
	require.NoError(t, err)
}

func aliceMessage() *dissect.Message {
	return &dissect.Message{Header: map[string][]string{
		"message-id": {"<alice-1@evil.tld>"},
		"from":       {"Alice <alice@evil.tld>"},
		"date":       {"Mon, 2 Jan 2023 10:00:00 +0000"},
	}}
}

func TestInspectScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindDomain, "evil.tld")

	v, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.True(t, v.Suspicious())
	assert.Equal(t, []string{"Sender (1/1)"}, v.Indications)
	assert.Equal(t, "From Alice <alice@evil.tld> (Mon, 2 Jan 2023 10:00:00 +0000)", v.Label)
	require.Len(t, v.Incidents, 1)
	assert.Equal(t, "evil.tld", v.Incidents[0].Raw)
	assert.Equal(t, types.ReportPending, v.Incidents[0].Reported)

	e, err := f.db.GetEmail(ctx, "<alice-1@evil.tld>")
	require.NoError(t, err)
	tags, err := f.db.TagsForEmail(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "alice@evil.tld", tags[0].Raw)
	assert.False(t, tags[0].Resolved())
	assert.Equal(t, "evil.tld", tags[1].Raw)
	assert.True(t, tags[1].Resolved())

	stats, err := f.db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Suspicious)
}

func TestInspectIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindDomain, "evil.tld")

	_, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	before, err := f.db.Stats(ctx)
	require.NoError(t, err)

	v, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, v.Cached)
	after, err := f.db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInspectConcurrentRedissection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindDomain, "evil.tld")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Inspect(ctx, aliceMessage(), InspectOptions{Force: true})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stats, err := f.db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emails)
	assert.Equal(t, 2, stats.Tags)
	assert.Equal(t, 1, stats.Pending)
}

func TestInspectCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	v, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusClean, v.Status)
	assert.False(t, v.Cached)

	// New indicators do not change the cached verdict.
	f.load(t, types.KindDomain, "evil.tld")
	v, err = f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.True(t, v.Cached)
	assert.Equal(t, types.StatusClean, v.Status)

	st, err := f.engine.Status(ctx, "<alice-1@evil.tld>")
	require.NoError(t, err)
	assert.Equal(t, types.StatusClean, st.Status)
}

func TestInspectNoMessageID(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Inspect(context.Background(), &dissect.Message{Header: map[string][]string{"from": {"x@y.tld"}}}, InspectOptions{})
	assert.ErrorIs(t, err, ErrNoMessageID)
}

func TestInspectDomainReduction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindDomain, "example.co.uk")

	msg := &dissect.Message{
		Header: map[string][]string{"message-id": {"<2@x.tld>"}, "from": {"a@safe.tld"}},
		Parts:  []*dissect.Part{{ContentType: "text/plain", Body: "log in at https://login.example.co.uk/ or http://other.example/"}},
	}
	v, err := f.engine.Inspect(ctx, msg, InspectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Links (1/2)"}, v.Indications)
	require.Len(t, v.Incidents, 1)
	assert.Equal(t, "example.co.uk", v.Incidents[0].Raw)
	assert.Equal(t, dissect.TypeLink+"_domain", v.Incidents[0].Type)
}

func TestInspectAllGroups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindEmail, "bad@reply.tld", "phish@mailto.tld")
	f.load(t, types.KindDomain, "sender.tld")

	msg := &dissect.Message{
		Header: map[string][]string{
			"message-id":  {"<3@x.tld>"},
			"from":        {"a@good.tld"},
			"sender":      {"s@sender.tld"},
			"reply-to":    {"bad@reply.tld"},
			"return-path": {"<b@good.tld>"},
			"received":    {"from mx.sender.tld"},
		},
		Parts: []*dissect.Part{{ContentType: "text/html", Body: `<a href="mailto:phish@mailto.tld">x</a><a href="http://good.tld">y</a>`}},
	}
	v, err := f.engine.Inspect(ctx, msg, InspectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sender (1/2)", "ReplyTo (1/2)", "Email addresses (1/1)"}, v.Indications)
	assert.Len(t, v.Incidents, 3)
}

func TestDemoMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{
		Test: TestMode{Enabled: true, Rate: 50},
		Rand: func() float64 { return 0.2 },
	})

	v, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{DemoIndication}, v.Indications)
	assert.True(t, v.Suspicious())
	assert.Empty(t, v.Incidents, "demo detections are not recorded")

	f2 := newFixture(t, Options{
		Test: TestMode{Enabled: true, Rate: 10},
		Rand: func() float64 { return 0.2 },
	})
	v, err = f2.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.Empty(t, v.Indications)
}

func TestNotifiers(t *testing.T) {
	ctx := context.Background()
	var got []string
	f := newFixture(t, Options{Notifiers: []Notifier{
		NotifierFunc(func(_ context.Context, id string, v *Verdict) error {
			got = append(got, id+":"+v.Status.String())
			return nil
		}),
		NotifierFunc(func(context.Context, string, *Verdict) error { return errors.New("sink down") }),
	}})
	f.load(t, types.KindDomain, "evil.tld")

	_, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	_, err = f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"<alice-1@evil.tld>:suspicious"}, got, "cached verdicts are not re-notified")
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.load(t, types.KindDomain, "evil.tld")

	_, err := f.engine.Inspect(ctx, aliceMessage(), InspectOptions{})
	require.NoError(t, err)
	ok, err := f.engine.Forget(ctx, "<alice-1@evil.tld>")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.engine.Status(ctx, "<alice-1@evil.tld>")
	assert.ErrorIs(t, err, db.ErrNotFound)
	stats, err := f.db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Tags)
	assert.Zero(t, stats.Pending)
}
