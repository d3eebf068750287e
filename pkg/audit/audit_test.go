package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

var t0 = time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)

func appendThree(t *testing.T, l Log) []Record {
	t.Helper()
	ctx := context.Background()
	var out []Record
	for i, kind := range []Kind{KindDriftReport, KindMisuseReport, KindDriftReport} {
		r, err := l.Append(ctx, kind, "run-1", map[string]any{"n": i, "note": "<b>&</b>"})
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestFileLog_AppendReopenVerify(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit", "log.jsonl")

	l, err := OpenFile(path)
	require.NoError(t, err)
	l.WithClock(tick(t0))

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, Genesis, head)

	recs := appendThree(t, l)
	assert.Equal(t, Genesis, recs[0].PrevHash)
	assert.Equal(t, recs[0].RecordHash, recs[1].PrevHash)
	assert.Equal(t, uint64(3), recs[2].Sequence)
	require.NoError(t, l.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	head, err = reopened.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, recs[2].RecordHash, head)

	n, err := Verify(ctx, reopened)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	next, err := reopened.Append(ctx, KindEscalation, "run-2", map[string]string{"target": "ARCHITECTE"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Sequence)
	assert.Equal(t, recs[2].RecordHash, next.PrevHash)

	drift, err := reopened.Read(ctx, Filter{Kind: KindDriftReport})
	require.NoError(t, err)
	assert.Len(t, drift, 2)

	limited, err := reopened.Read(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, uint64(1), limited[0].Sequence)
}

func TestFileLog_TamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	l, err := OpenFile(path)
	require.NoError(t, err)
	appendThree(t, l.WithClock(tick(t0)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"n":1`), []byte(`"n":7`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err = OpenFile(path)
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestVerifyChain(t *testing.T) {
	r1, err := newRecord(1, Genesis, t0, KindCIReport, "a", map[string]int{"x": 1})
	require.NoError(t, err)
	r2, err := newRecord(2, r1.RecordHash, t0.Add(time.Second), KindCIReport, "a", map[string]int{"x": 2})
	require.NoError(t, err)

	require.NoError(t, VerifyChain(nil))
	require.NoError(t, VerifyChain([]Record{r1, r2}))

	assert.ErrorIs(t, VerifyChain([]Record{r2}), ErrChainBroken)

	relinked := r2
	relinked.PrevHash = Genesis
	assert.ErrorIs(t, VerifyChain([]Record{r1, relinked}), ErrChainBroken)

	edited := r1
	edited.Subject = "b"
	assert.ErrorIs(t, VerifyChain([]Record{edited, r2}), ErrChainBroken)
}

func TestSQLLog_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	l, err := Open(ctx, BackendSQLite, path)
	require.NoError(t, err)
	sl := l.(*SQLLog)
	sl.WithClock(tick(t0))
	recs := appendThree(t, sl)
	require.NoError(t, l.Close())

	l, err = Open(ctx, BackendSQLite, path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	got, err := l.Read(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range recs {
		assert.Equal(t, recs[i].RecordHash, got[i].RecordHash)
		assert.True(t, recs[i].Timestamp.Equal(got[i].Timestamp))
	}
	require.NoError(t, VerifyChain(got))

	since, err := l.Read(ctx, Filter{Since: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, recs[2].RecordHash, head)
}

func TestSQLLog_PostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, record_hash FROM audit_records").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "record_hash"}))
	mock.ExpectExec(`INSERT INTO audit_records .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)`).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), "drift_report", "run-9",
			sqlmock.AnyArg(), sqlmock.AnyArg(), Genesis, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l, err := NewSQLLog(context.Background(), db, DialectPostgres)
	require.NoError(t, err)
	r, err := l.WithClock(tick(t0)).Append(context.Background(), KindDriftReport, "run-9", map[string]int{"drifts": 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.Equal(t, Genesis, r.PrevHash)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &SQLLog{dialect: DialectPostgres}
	lite := &SQLLog{dialect: DialectSQLite}
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), BackendFile, "")
	require.Error(t, err)
	_, err = Open(context.Background(), Backend("etcd"), "x")
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	l, err := OpenFile(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	recs := appendThree(t, l.WithClock(tick(t0)))

	pack, sum, err := Export(ctx, l, Filter{Kind: KindDriftReport}, t0)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	again, sum2, err := Export(ctx, l, Filter{Kind: KindDriftReport}, t0)
	require.NoError(t, err)
	assert.Equal(t, pack, again)
	assert.Equal(t, sum, sum2)

	zr, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	require.NoError(t, err)
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		files[f.Name] = b
	}
	require.Contains(t, files, "records.json")
	require.Contains(t, files, "README.txt")

	var m ExportManifest
	require.NoError(t, json.Unmarshal(files["manifest.json"], &m))
	assert.Equal(t, 2, m.RecordCount)
	assert.True(t, m.ChainValid)
	assert.Equal(t, recs[2].RecordHash, m.ChainHead)

	_, _, err = Export(ctx, l, Filter{Since: t0.Add(time.Hour), Until: t0}, t0)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}
