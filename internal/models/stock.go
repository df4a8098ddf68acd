package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// StockRecord is one instrument's daily OHLCV bar.
// (TradeDate, TradeCode) is the primary key.
type StockRecord struct {
	TradeDate time.Time       `validate:"required"`
	TradeCode string          `validate:"required,max=20"`
	Open      decimal.Decimal `validate:"gte=0"`
	High      decimal.Decimal `validate:"gte=0"`
	Low       decimal.Decimal `validate:"gte=0"`
	Close     decimal.Decimal `validate:"gte=0"`
	Volume    int64           `validate:"gte=0"`
}

func (r *StockRecord) Key() RecordKey {
	return RecordKey{TradeDate: r.TradeDate, TradeCode: r.TradeCode}
}

// Equal compares every field, treating decimals by value.
func (r *StockRecord) Equal(o *StockRecord) bool {
	return r.TradeDate.Equal(o.TradeDate) &&
		r.TradeCode == o.TradeCode &&
		r.Open.Equal(o.Open) &&
		r.High.Equal(o.High) &&
		r.Low.Equal(o.Low) &&
		r.Close.Equal(o.Close) &&
		r.Volume == o.Volume
}

type RecordKey struct {
	TradeDate time.Time
	TradeCode string
}

func (k RecordKey) Date() string {
	return k.TradeDate.Format(DateLayout)
}

func (k RecordKey) String() string {
	return k.TradeCode + "@" + k.Date()
}

// RecordPatch holds the fields of a partial update. Nil fields are left as stored.
type RecordPatch struct {
	Open   *decimal.Decimal
	High   *decimal.Decimal
	Low    *decimal.Decimal
	Close  *decimal.Decimal
	Volume *int64
}

func (p *RecordPatch) Empty() bool {
	return p.Open == nil && p.High == nil && p.Low == nil && p.Close == nil && p.Volume == nil
}

// Apply writes the present fields onto rec.
func (p *RecordPatch) Apply(rec *StockRecord) {
	if p.Open != nil {
		rec.Open = *p.Open
	}
	if p.High != nil {
		rec.High = *p.High
	}
	if p.Low != nil {
		rec.Low = *p.Low
	}
	if p.Close != nil {
		rec.Close = *p.Close
	}
	if p.Volume != nil {
		rec.Volume = *p.Volume
	}
}

type ImportSummary struct {
	Source     string `json:"source"`
	Total      int    `json:"total"`
	Inserted   int    `json:"inserted"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
}
