package repositorycache_test

import (
	"context"
	"errors"
	"os"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/export"
	"github.com/goliatone/go-indexer-cache/pkg/testsupport"
	"github.com/goliatone/go-indexer-cache/repositorycache"
	"github.com/goliatone/go-indexer-cache/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(testsupport.NewSQLiteDB(t))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background(), testsupport.TransferSchema(), testsupport.AccountSchema()))
	return st
}

func newCache(t *testing.T, st *store.Store, sc *entity.Schema, opts ...repositorycache.Option) *repositorycache.EntityCache {
	t.Helper()
	reads, err := cache.NewService[entity.Record](cache.DefaultConfig())
	require.NoError(t, err)
	opts = append([]repositorycache.Option{repositorycache.WithReadCache(reads)}, opts...)
	c, err := repositorycache.New(sc, st, st.DB(), opts...)
	require.NoError(t, err)
	return c
}

// flush runs one snapshot, flush and clear cycle at cut.
func flush(t *testing.T, st *store.Store, c *repositorycache.EntityCache, cut int64) error {
	t.Helper()
	ctx := context.Background()
	snap := c.Snapshot(cut)
	return st.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := c.Flush(ctx, tx, snap, cut); err != nil {
			return err
		}
		tx.AfterCommit(func() { c.Clear(ctx, snap) })
		return nil
	})
}

func TestFlushHistoricalRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 1))
	require.NoError(t, flush(t, st, c, 4))
	assert.Equal(t, int64(0), c.Dirty())

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 2), 5))
	require.NoError(t, flush(t, st, c, 5))

	versions, err := st.History(ctx, st.DB(), sc, "t1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(1), versions[0].StartHeight)
	require.NotNil(t, versions[0].EndHeight)
	assert.Equal(t, int64(5), *versions[0].EndHeight)
	assert.Equal(t, int64(1), versions[0].Data["amount"])
	assert.Equal(t, int64(5), versions[1].StartHeight)
	assert.Nil(t, versions[1].EndHeight)

	at, err := st.GetAt(ctx, st.DB(), sc, "t1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), at["amount"])

	rec, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec["amount"])
}

func TestFlushRemoval(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 2))
	require.NoError(t, flush(t, st, c, 2))

	require.NoError(t, c.Remove("t1", 7))
	_, err := c.Get(ctx, "t1")
	assert.ErrorIs(t, err, repositorycache.ErrNotFound)
	require.NoError(t, flush(t, st, c, 7))

	_, err = st.Get(ctx, st.DB(), sc, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	at, err := st.GetAt(ctx, st.DB(), sc, "t1", 6)
	require.NoError(t, err)
	assert.Equal(t, "0xa", at["from"])

	_, err = c.Get(ctx, "t1")
	assert.ErrorIs(t, err, repositorycache.ErrNotFound)
}

func TestFlushSameBlockCreateAndRemove(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 3))
	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 2), 3))
	require.NoError(t, c.Set("t2", testsupport.Transfer("t2", "0xa", "0xb", 1), 3))
	require.NoError(t, c.Remove("t2", 3))
	require.NoError(t, flush(t, st, c, 3))

	versions, err := st.History(ctx, st.DB(), sc, "t1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(2), versions[0].Data["amount"])

	versions, err = st.History(ctx, st.DB(), sc, "t2")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestFlushIsReplayable(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 1))
	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 2), 3))
	require.NoError(t, c.Remove("t1", 6))

	snap := c.Snapshot(6)
	for i := 0; i < 2; i++ {
		err := st.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			return c.Flush(ctx, tx, snap, 6)
		})
		require.NoError(t, err)
	}

	versions, err := st.History(ctx, st.DB(), sc, "t1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.NotNil(t, versions[1].EndHeight)
	assert.Equal(t, int64(6), *versions[1].EndHeight)
}

func TestFlushLatestOnly(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.AccountSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("a1", testsupport.Account("a1", 10, true), 1))
	require.NoError(t, c.Set("a2", testsupport.Account("a2", 20, true), 1))
	require.NoError(t, flush(t, st, c, 1))

	require.NoError(t, c.Remove("a1", 2))
	require.NoError(t, c.Set("a1", testsupport.Account("a1", 11, false), 3))
	require.NoError(t, c.Remove("a2", 3))
	require.NoError(t, flush(t, st, c, 3))

	rec, err := st.Get(ctx, st.DB(), sc, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec["balance"])
	assert.Equal(t, false, rec["active"])

	_, err = st.Get(ctx, st.DB(), sc, "a2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFlushInFlightMutations(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 5))
	snap := c.Snapshot(5)

	// the next block is processed while the flush runs
	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 2), 6))
	assert.ErrorIs(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 3), 5), repositorycache.ErrStaleHeight)

	err := st.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := c.Flush(ctx, tx, snap, 5); err != nil {
			return err
		}
		tx.AfterCommit(func() { c.Clear(ctx, snap) })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Dirty())

	rec, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec["amount"])

	require.NoError(t, flush(t, st, c, 6))
	versions, err := st.History(ctx, st.DB(), sc, "t1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(6), *versions[0].EndHeight)
}

func TestGetByFieldsAgainstStore(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	c := newCache(t, st, sc)

	recs := testsupport.LoadRecords(t, "../pkg/testsupport/testdata/transfers.json")
	require.NoError(t, c.BulkCreate(recs, 1))
	require.NoError(t, flush(t, st, c, 1))

	require.NoError(t, c.BulkUpdate(ctx, []entity.Record{{"id": "t1", "amount": 25}}, 2, "amount"))
	require.NoError(t, c.Remove("t3", 2))

	got, err := c.GetByFields(ctx, nil, entity.QueryOptions{OrderBy: "amount", Desc: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID())
	assert.Equal(t, "t2", got[1].ID())

	got, err = c.GetByFields(ctx, []entity.Filter{{Field: "amount", Op: entity.OpIn, Value: []int64{20, 30}}}, entity.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID())
}

type failingExporter struct{}

func (failingExporter) Export(context.Context, []export.Row) error {
	return errors.New("disk full")
}

func TestExportersFollowTransaction(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sc := testsupport.TransferSchema()
	dir := t.TempDir()

	csv, err := export.NewCSV(dir, sc)
	require.NoError(t, err)
	c := newCache(t, st, sc, repositorycache.WithExporter(csv))

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 1))
	require.NoError(t, flush(t, st, c, 1))

	data, err := os.ReadFile(csv.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "t1,0xa,0xb,1")

	broken := newCache(t, st, sc, repositorycache.WithExporter(csv, failingExporter{}))
	require.NoError(t, broken.Set("t9", testsupport.Transfer("t9", "0xa", "0xb", 9), 2))
	err = flush(t, st, broken, 2)
	require.Error(t, err)

	var gerr *goerrors.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, export.CategoryExport, gerr.Category)
	assert.Equal(t, int64(1), broken.Dirty())

	_, err = st.Get(ctx, st.DB(), sc, "t9")
	assert.ErrorIs(t, err, store.ErrNotFound)

	after, err := os.ReadFile(csv.Path())
	require.NoError(t, err)
	assert.Equal(t, string(data), string(after))
}

type recordingExporter struct {
	rows []export.Row
}

func (e *recordingExporter) Export(_ context.Context, rows []export.Row) error {
	e.rows = append(e.rows, rows...)
	return nil
}

type exported struct {
	id     string
	amount any
	start  int64
	end    int64
}

func summarize(rows []export.Row) []exported {
	out := make([]exported, len(rows))
	for i, r := range rows {
		out[i] = exported{id: r.Record.ID(), amount: r.Record["amount"], start: r.StartHeight, end: -1}
		if r.EndHeight != nil {
			out[i].end = *r.EndHeight
		}
	}
	return out
}

func TestExportersSeeClosedVersions(t *testing.T) {
	st := newStore(t)
	sc := testsupport.TransferSchema()
	rec := &recordingExporter{}
	c := newCache(t, st, sc, repositorycache.WithExporter(rec))

	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 1), 1))
	require.NoError(t, flush(t, st, c, 1))
	assert.Equal(t, []exported{{id: "t1", amount: int64(1), start: 1, end: -1}}, summarize(rec.rows))

	rec.rows = nil
	require.NoError(t, c.Set("t1", testsupport.Transfer("t1", "0xa", "0xb", 2), 3))
	require.NoError(t, flush(t, st, c, 3))
	assert.Equal(t, []exported{
		{id: "t1", amount: int64(1), start: 1, end: 3},
		{id: "t1", amount: int64(2), start: 3, end: -1},
	}, summarize(rec.rows))

	// a removal only flush still mirrors the closed version
	rec.rows = nil
	require.NoError(t, c.Remove("t1", 5))
	require.NoError(t, flush(t, st, c, 5))
	assert.Equal(t, []exported{{id: "t1", amount: int64(2), start: 3, end: 5}}, summarize(rec.rows))

	// nothing is open any more, so nothing is exported
	rec.rows = nil
	require.NoError(t, c.Remove("t1", 6))
	require.NoError(t, flush(t, st, c, 6))
	assert.Empty(t, rec.rows)
}
