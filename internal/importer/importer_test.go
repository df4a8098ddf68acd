package importer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/stockviewer-backend/internal/importer"
	"github.com/kjannette/stockviewer-backend/internal/metrics"
	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/kjannette/stockviewer-backend/internal/testutil"
	"github.com/kjannette/stockviewer-backend/internal/validator"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchJSON = `[
  {"date":"2024-01-02","trade_code":"ABC","high":12,"low":9,"open":10,"close":11,"volume":1000},
  {"date":"2024-01-02","trade_code":"XYZ","high":"5.50","low":"4.25","open":"5","close":"5.1","volume":"300"},
  {"date":"2024-01-03","trade_code":"ABC","high":13,"low":10,"open":11,"close":12.5,"volume":1500}
]`

const batchCSV = "date,trade_code,open,high,low,close,volume\n" +
	"2024-01-02,ABC,10,12,9,11,1000\n" +
	"2024-01-02, XYZ ,5,5.50,4.25,5.1,300\n"

type recordingNotifier struct {
	mu        sync.Mutex
	completed []models.ImportSummary
	failed    []error
}

func (n *recordingNotifier) ImportCompleted(_ context.Context, sum *models.ImportSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, *sum)
}

func (n *recordingNotifier) ImportFailed(_ context.Context, _ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// ---------- sources ----------

func TestFileSource_JSON(t *testing.T) {
	rows, err := importer.NewFileSource(writeFile(t, "data.json", batchJSON)).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "XYZ", rows[1]["trade_code"])
}

func TestFileSource_CSV(t *testing.T) {
	rows, err := importer.NewFileSource(writeFile(t, "data.csv", batchCSV)).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "XYZ", rows[1]["trade_code"])
	assert.Equal(t, "300", rows[1]["volume"])

	rec, err := validator.New(validator.Options{RequireAllFields: true}).ParseRecord(rows[1])
	require.NoError(t, err)
	assert.Equal(t, "5.5", rec.High.String())
}

func TestFileSource_CSVEmptyCellIsAbsent(t *testing.T) {
	rows, err := importer.NewFileSource(writeFile(t, "gap.csv",
		"date,trade_code,open,high,low,close,volume\n2024-01-02,ABC,10,,9,11,1000\n")).Load(context.Background())
	require.NoError(t, err)
	_, present := rows[0]["high"]
	assert.False(t, present)
}

func TestFileSource_Errors(t *testing.T) {
	var srcErr *models.SourceError

	_, err := importer.NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background())
	require.True(t, errors.As(err, &srcErr))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = importer.NewFileSource(writeFile(t, "obj.json", `{"date":"2024-01-02"}`)).Load(context.Background())
	assert.True(t, errors.As(err, &srcErr))

	_, err = importer.NewFileSource(writeFile(t, "empty.csv", "")).Load(context.Background())
	assert.True(t, errors.As(err, &srcErr))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/batch.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(batchJSON))
		case "/batch":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Write([]byte(batchCSV))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rows, err := importer.NewHTTPSource(srv.URL+"/batch.json").Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = importer.NewHTTPSource(srv.URL+"/batch").Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = importer.NewHTTPSource(srv.URL+"/nope").Load(context.Background())
	var srcErr *models.SourceError
	assert.True(t, errors.As(err, &srcErr))
}

// ---------- importer ----------

func TestImporter_RunIsIdempotent(t *testing.T) {
	store := testutil.NewMemStore()
	m := metrics.New()
	notify := &recordingNotifier{}
	im := importer.New(importer.NewFileSource(writeFile(t, "data.json", batchJSON)), store, m, notify)

	first, err := im.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)
	assert.Equal(t, 3, store.Len())

	before, _ := store.List(context.Background())

	second, err := im.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 3, second.Skipped)

	after, _ := store.List(context.Background())
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].Equal(&after[i]))
	}

	im.Wait()
	assert.Len(t, notify.completed, 2)
	assert.Contains(t, notify.completed[0].Source, "data.json")
	assert.Equal(t, 3.0, promtest.ToFloat64(m.ImportRecordsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.ImportRecordsTotal.WithLabelValues("skipped")))
}

func TestImporter_SkipsExistingWithoutOverwriting(t *testing.T) {
	store := testutil.NewMemStore()
	v := validator.New(validator.Options{})
	stored, err := v.ParseRecord(map[string]any{
		"date": "2024-01-02", "trade_code": "ABC", "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": 1.0,
	})
	require.NoError(t, err)
	_, err = store.Create(context.Background(), stored)
	require.NoError(t, err)

	im := importer.New(importer.NewFileSource(writeFile(t, "data.json", batchJSON)), store, nil, nil)
	sum, err := im.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 1, sum.Skipped)

	got, err := store.Get(context.Background(), stored.Key())
	require.NoError(t, err)
	assert.True(t, stored.Equal(got))
}

func TestImporter_InvalidRowAbortsBatch(t *testing.T) {
	store := testutil.NewMemStore()
	notify := &recordingNotifier{}
	src := writeFile(t, "bad.json", `[
	  {"date":"2024-01-02","trade_code":"ABC","high":12,"low":9,"open":10,"close":11,"volume":1000},
	  {"date":"2024-01-02","trade_code":"XYZ","high":12,"low":9,"open":10,"close":11}
	]`)
	im := importer.New(importer.NewFileSource(src), store, nil, notify)

	_, err := im.Run(context.Background())
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "records[1].volume", verr.Field)
	assert.Zero(t, store.Len(), "nothing stored")
	im.Wait()
	assert.Len(t, notify.failed, 1)
}

func TestImporter_StoreFailure(t *testing.T) {
	store := testutil.NewMemStore()
	store.Err = errors.New("connection refused")
	m := metrics.New()

	im := importer.New(importer.NewFileSource(writeFile(t, "data.json", batchJSON)), store, m, nil)
	_, err := im.Run(context.Background())

	var storeErr *models.StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ImportRunsTotal.WithLabelValues("error")))
}

func TestImporter_NullRow(t *testing.T) {
	im := importer.New(importer.NewFileSource(writeFile(t, "null.json", `[null]`)), testutil.NewMemStore(), nil, nil)
	_, err := im.Run(context.Background())
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "records[0]", verr.Field)
}

type blockingNotifier struct {
	release chan struct{}
	done    chan struct{}
}

func (n *blockingNotifier) ImportCompleted(context.Context, *models.ImportSummary) {
	<-n.release
	close(n.done)
}

func (n *blockingNotifier) ImportFailed(context.Context, string, error) {}

func TestImporter_SlowNotifierDoesNotDelayRun(t *testing.T) {
	notify := &blockingNotifier{release: make(chan struct{}), done: make(chan struct{})}
	im := importer.New(importer.NewFileSource(writeFile(t, "data.json", batchJSON)), testutil.NewMemStore(), nil, notify)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	sum, err := im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Inserted)
	assert.Less(t, time.Since(start), time.Second)

	cancel()
	select {
	case <-notify.done:
		t.Fatal("notification finished before it was released")
	default:
	}

	close(notify.release)
	im.Wait()
	select {
	case <-notify.done:
	default:
		t.Fatal("Wait returned before the notification was delivered")
	}
}
