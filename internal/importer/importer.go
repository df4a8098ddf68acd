// Package importer runs the idempotent bulk import: load a batch from a
// source, validate every row, and hand the batch to the store, which inserts
// only the keys it does not hold yet.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kjannette/stockviewer-backend/internal/metrics"
	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/kjannette/stockviewer-backend/internal/validator"
)

type Store interface {
	BulkImport(ctx context.Context, recs []models.StockRecord) (*models.ImportSummary, error)
}

type Notifier interface {
	ImportCompleted(ctx context.Context, sum *models.ImportSummary)
	ImportFailed(ctx context.Context, source string, err error)
}

type Importer struct {
	source    Source
	store     Store
	validator *validator.Validator
	metrics   *metrics.Metrics
	notifier  Notifier

	pending sync.WaitGroup
}

// New builds an importer. Rows are always validated strictly: every field
// must be present. m and n may be nil.
func New(source Source, store Store, m *metrics.Metrics, n Notifier) *Importer {
	return &Importer{
		source:    source,
		store:     store,
		validator: validator.New(validator.Options{RequireAllFields: true}),
		metrics:   m,
		notifier:  n,
	}
}

func (im *Importer) Run(ctx context.Context) (*models.ImportSummary, error) {
	log := slog.With("component", "import", "source", im.source.Name())

	sum, err := im.run(ctx)
	if im.metrics != nil {
		if sum != nil {
			im.metrics.ObserveImport(sum.Inserted, sum.Skipped, sum.Duplicates, err)
		} else {
			im.metrics.ObserveImport(0, 0, 0, err)
		}
	}
	if err != nil {
		log.Error("import failed", "error", err)
		im.notify(ctx, func(ctx context.Context, n Notifier) {
			n.ImportFailed(ctx, im.source.Name(), err)
		})
		return nil, err
	}

	log.Info("import finished",
		"total", sum.Total, "inserted", sum.Inserted,
		"skipped", sum.Skipped, "duplicates", sum.Duplicates)
	done := *sum
	im.notify(ctx, func(ctx context.Context, n Notifier) {
		n.ImportCompleted(ctx, &done)
	})
	return sum, nil
}

// notify delivers in the background so a slow webhook never holds up the
// caller. The context keeps request values but not its cancellation.
func (im *Importer) notify(ctx context.Context, fn func(context.Context, Notifier)) {
	if im.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	im.pending.Add(1)
	go func() {
		defer im.pending.Done()
		fn(ctx, im.notifier)
	}()
}

// Wait blocks until every queued notification has been delivered or dropped.
func (im *Importer) Wait() {
	im.pending.Wait()
}

func (im *Importer) run(ctx context.Context) (*models.ImportSummary, error) {
	rows, err := im.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]models.StockRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := im.validator.ParseRecord(row)
		if err != nil {
			return nil, rowError(i, err)
		}
		recs = append(recs, *rec)
	}

	sum, err := im.store.BulkImport(ctx, recs)
	if err != nil {
		return nil, err
	}
	sum.Source = im.source.Name()
	return sum, nil
}

func rowError(i int, err error) error {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return &models.ValidationError{
			Field:  fmt.Sprintf("records[%d].%s", i, verr.Field),
			Reason: verr.Reason,
		}
	}
	if errors.Is(err, models.ErrInvalidJSON) {
		return &models.ValidationError{Field: fmt.Sprintf("records[%d]", i), Reason: "must be an object"}
	}
	return err
}
