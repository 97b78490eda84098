package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/daviddao/phishbeads/internal/fingerprint"
	"github.com/daviddao/phishbeads/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "phish.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func int64p(v int64) *int64 { return &v }

func TestInsertIndicatorsIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	a, b := fingerprint.Sum("evil.tld"), fingerprint.Sum("bad.example")
	res, err := d.InsertIndicators(ctx, []string{a, b, a, ""}, types.KindDomain)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)

	// Same fingerprint as a different kind is a distinct indicator.
	res, err = d.InsertIndicators(ctx, []string{a}, types.KindEmail)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	refs, err := d.LookupIndicator(ctx, a)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, types.KindDomain, refs[0].Kind)
	assert.Equal(t, types.KindEmail, refs[1].Kind)

	refs, err = d.LookupIndicator(ctx, fingerprint.Sum("good.example"))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestRefreshKeepsTestIndicators(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	keep, stale, demo := fingerprint.Sum("keep.tld"), fingerprint.Sum("stale.tld"), fingerprint.Sum("demo.tld")
	_, err := d.InsertIndicators(ctx, []string{keep, stale}, types.KindDomain)
	require.NoError(t, err)
	_, err = d.InsertIndicators(ctx, []string{demo}, types.KindTest)
	require.NoError(t, err)

	before, err := d.LookupIndicator(ctx, keep)
	require.NoError(t, err)
	require.Len(t, before, 1)

	fresh := fingerprint.Sum("fresh@evil.tld")
	res, err := d.RefreshIndicators(ctx, map[types.Kind][]string{
		types.KindDomain: {keep},
		types.KindEmail:  {fresh},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Ignored)

	after, err := d.LookupIndicator(ctx, keep)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID, "surviving indicator keeps its id")

	refs, err := d.LookupIndicator(ctx, stale)
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = d.LookupIndicator(ctx, demo)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	refs, err = d.LookupIndicator(ctx, fresh)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestGetOrCreateEmail(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e1, err := d.GetOrCreateEmail(ctx, "<1@example.com>", "From a (today)")
	require.NoError(t, err)
	e2, err := d.GetOrCreateEmail(ctx, "<1@example.com>", "other label")
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, "From a (today)", e2.Label)
	assert.Equal(t, types.StatusUnknown, e2.Status)

	require.NoError(t, d.SetEmailStatus(ctx, e1.ID, types.StatusSuspicious, 42))
	e3, err := d.GetEmail(ctx, "<1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspicious, e3.Status)
	assert.Equal(t, int64(42), e3.Timestamp)

	_, err = d.GetEmail(ctx, "<missing>")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.GetOrCreateEmail(ctx, "", "")
	assert.Error(t, err)
}

func TestInsertTagIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<2@example.com>", "")
	require.NoError(t, err)
	_, err = d.InsertIndicators(ctx, []string{fingerprint.Sum("evil.tld")}, types.KindDomain)
	require.NoError(t, err)
	refs, err := d.LookupIndicator(ctx, fingerprint.Sum("evil.tld"))
	require.NoError(t, err)

	tag := &types.Tag{EmailID: e.ID, Raw: "evil.tld", Type: "email_from", Fingerprint: fingerprint.Sum("evil.tld"), IndicatorID: &refs[0].ID}
	first, err := d.InsertTag(ctx, tag, 1)
	require.NoError(t, err)
	second, err := d.InsertTag(ctx, tag, 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	inc, err := d.IncidentForTag(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inc.Timestamp, "second insert must not touch the incident")
	assert.Equal(t, types.ReportPending, inc.Reported)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tags)
	assert.Equal(t, 1, stats.Pending)
}

func TestInsertTagConcurrent(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<3@example.com>", "")
	require.NoError(t, err)
	tag := &types.Tag{EmailID: e.ID, Raw: "x.tld", Type: "email_link", Fingerprint: fingerprint.Sum("x.tld"), IndicatorID: int64p(9)}

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := d.InsertTag(ctx, tag, Now())
			errs[i] = err
			if stored != nil {
				ids[i] = stored.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tags)
	assert.Equal(t, 1, stats.Pending)
}

func TestResolveTagOnce(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<4@example.com>", "")
	require.NoError(t, err)
	tag, err := d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "a@b.tld", Type: "email_from", Fingerprint: fingerprint.Sum("a@b.tld")}, 1)
	require.NoError(t, err)
	assert.False(t, tag.Resolved())

	unresolved, err := d.UnresolvedTags(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	ok, err := d.ResolveTag(ctx, tag.ID, 5, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ResolveTag(ctx, tag.ID, 6, 11)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetTag(ctx, e.ID, "a@b.tld", "email_from")
	require.NoError(t, err)
	require.NotNil(t, got.IndicatorID)
	assert.Equal(t, int64(5), *got.IndicatorID)

	inc, err := d.IncidentForTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), inc.Timestamp)

	unresolved, err = d.UnresolvedTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestReportTransitions(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<5@example.com>", "")
	require.NoError(t, err)
	tag, err := d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "evil.tld", Type: "email_link", Fingerprint: "f", IndicatorID: int64p(1)}, 1)
	require.NoError(t, err)
	inc, err := d.IncidentForTag(ctx, tag.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, d.SetReported(ctx, inc.ID, types.ReportPending, types.ReportDone), ErrInvalidTransition)
	require.NoError(t, d.SetReported(ctx, inc.ID, types.ReportPending, types.ReportInTransit))
	assert.ErrorIs(t, d.SetReported(ctx, inc.ID, types.ReportPending, types.ReportInTransit), ErrInvalidTransition)
	require.NoError(t, d.SetReported(ctx, inc.ID, types.ReportInTransit, types.ReportDone))
	assert.ErrorIs(t, d.SetReported(ctx, inc.ID, types.ReportDone, types.ReportPending), ErrInvalidTransition)

	all, err := d.ListIncidents(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.ReportDone, all[0].Reported)
	assert.Equal(t, "<5@example.com>", all[0].Context)

	pending, err := d.ListIncidents(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingIncidentsFiltersTestKind(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	_, err := d.InsertIndicators(ctx, []string{"demo"}, types.KindTest)
	require.NoError(t, err)
	_, err = d.InsertIndicators(ctx, []string{"real"}, types.KindDomain)
	require.NoError(t, err)
	demo, _ := d.LookupIndicator(ctx, "demo")
	real, _ := d.LookupIndicator(ctx, "real")

	e, err := d.GetOrCreateEmail(ctx, "<6@example.com>", "")
	require.NoError(t, err)
	_, err = d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "demo", Type: "email_link", Fingerprint: "demo", IndicatorID: &demo[0].ID}, 1)
	require.NoError(t, err)
	_, err = d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "real", Type: "email_link", Fingerprint: "real", IndicatorID: &real[0].ID}, 1)
	require.NoError(t, err)

	pending, err := d.PendingIncidents(ctx, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "real", pending[0].Raw)
	assert.Equal(t, types.KindDomain, pending[0].Kind)

	pending, err = d.PendingIncidents(ctx, true)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	inds, err := d.Indications(ctx, "<6@example.com>")
	require.NoError(t, err)
	assert.Len(t, inds, 2)
}

func TestResetInTransit(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<7@example.com>", "")
	require.NoError(t, err)
	tag, err := d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "r", Type: "t", Fingerprint: "r", IndicatorID: int64p(1)}, 1)
	require.NoError(t, err)
	inc, err := d.IncidentForTag(ctx, tag.ID)
	require.NoError(t, err)
	require.NoError(t, d.SetReported(ctx, inc.ID, types.ReportPending, types.ReportInTransit))

	n, err := d.ResetInTransit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	inc, err = d.IncidentForTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReportPending, inc.Reported)
}

func TestDeleteEmail(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	e, err := d.GetOrCreateEmail(ctx, "<8@example.com>", "")
	require.NoError(t, err)
	_, err = d.InsertTag(ctx, &types.Tag{EmailID: e.ID, Raw: "r", Type: "t", Fingerprint: "r", IndicatorID: int64p(1)}, 1)
	require.NoError(t, err)

	found, err := d.DeleteEmail(ctx, "<8@example.com>")
	require.NoError(t, err)
	assert.True(t, found)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Emails)
	assert.Zero(t, stats.Tags)
	assert.Zero(t, stats.Pending)

	found, err = d.DeleteEmail(ctx, "<8@example.com>")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	n, err := d.GetMetaInt(ctx, MetaSyncLast)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, d.SetMetaInt(ctx, MetaSyncLast, 1700000000))
	require.NoError(t, d.SetMetaInt(ctx, MetaSyncLast, 1700000001))
	n, err = d.GetMetaInt(ctx, MetaSyncLast)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000001), n)
}

func TestInsertTagRollsBackOnIncidentFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	d := New(conn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tags").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, email_id, raw, type, fingerprint, indicator_id FROM tags").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_id", "raw", "type", "fingerprint", "indicator_id"}).
			AddRow(1, 1, "evil.tld", "email_from", "fp", 7))
	mock.ExpectExec("INSERT OR IGNORE INTO incidents").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = d.InsertTag(context.Background(), &types.Tag{EmailID: 1, Raw: "evil.tld", Type: "email_from", Fingerprint: "fp", IndicatorID: int64p(7)}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTagBeginFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	d := New(conn)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = d.InsertTag(context.Background(), &types.Tag{EmailID: 1, Raw: "x", Type: "t", Fingerprint: "x"}, 1)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	ok, err := d.TryLock(ctx, "report", "a", 2000, 1000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TryLock(ctx, "report", "b", 3000, 1500)
	require.NoError(t, err)
	assert.False(t, ok, "live claim")

	ok, err = d.ExtendLock(ctx, "report", "a", 4000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TryLock(ctx, "report", "b", 6000, 4000)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim is taken over")

	ok, err = d.ExtendLock(ctx, "report", "a", 9000)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Unlock(ctx, "report", "a"))
	ok, err = d.TryLock(ctx, "report", "a", 7000, 4500)
	require.NoError(t, err)
	assert.False(t, ok, "unlock by a non-holder is a no-op")

	require.NoError(t, d.Unlock(ctx, "report", "b"))
	ok, err = d.TryLock(ctx, "report", "a", 7000, 4500)
	require.NoError(t, err)
	assert.True(t, ok)
}
