// Package validator turns raw JSON payloads into well-typed stock records.
// It has no side effects; every failure is a *models.ValidationError naming
// the offending field.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	playground "github.com/go-playground/validator/v10"
	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/shopspring/decimal"
)

const (
	FieldDate      = "date"
	FieldTradeCode = "trade_code"
	FieldOpen      = "open"
	FieldHigh      = "high"
	FieldLow       = "low"
	FieldClose     = "close"
	FieldVolume    = "volume"

	maxTradeCodeLen = 20
	priceScale      = 2
)

var (
	dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	// NUMERIC(10,2) holds at most 8 integer digits.
	maxPrice = decimal.New(1, 8)

	structFields = map[string]string{
		"TradeDate": FieldDate,
		"TradeCode": FieldTradeCode,
		"Open":      FieldOpen,
		"High":      FieldHigh,
		"Low":       FieldLow,
		"Close":     FieldClose,
		"Volume":    FieldVolume,
	}
)

type Options struct {
	// RequireAllFields rejects payloads missing any of open/high/low/close/volume
	// instead of defaulting them to zero.
	RequireAllFields bool
}

type Validator struct {
	opts   Options
	checks *playground.Validate
}

func New(opts Options) *Validator {
	v := playground.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return &Validator{opts: opts, checks: v}
}

// ParseRecord builds a record from a create payload.
func (v *Validator) ParseRecord(payload map[string]any) (*models.StockRecord, error) {
	if payload == nil {
		return nil, models.ErrInvalidJSON
	}

	rawDate, ok := payload[FieldDate]
	if !ok || rawDate == nil {
		return nil, invalid(FieldDate, "is required")
	}
	ds, ok := rawDate.(string)
	if !ok {
		return nil, invalid(FieldDate, "must be a string in YYYY-MM-DD format")
	}
	date, err := ParseDate(ds)
	if err != nil {
		return nil, err
	}

	code, err := parseTradeCode(payload[FieldTradeCode])
	if err != nil {
		return nil, err
	}

	rec := &models.StockRecord{TradeDate: date, TradeCode: code}

	prices := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{FieldHigh, &rec.High},
		{FieldLow, &rec.Low},
		{FieldOpen, &rec.Open},
		{FieldClose, &rec.Close},
	}
	for _, p := range prices {
		raw, present := payload[p.name]
		if !present {
			if v.opts.RequireAllFields {
				return nil, invalid(p.name, "is required")
			}
			continue
		}
		d, err := parsePrice(p.name, raw)
		if err != nil {
			return nil, err
		}
		*p.dst = d
	}

	if raw, present := payload[FieldVolume]; present {
		n, err := parseVolume(raw)
		if err != nil {
			return nil, err
		}
		rec.Volume = n
	} else if v.opts.RequireAllFields {
		return nil, invalid(FieldVolume, "is required")
	}

	if err := v.check(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ParsePatch builds a partial update from the fields present in payload.
// Key fields in the body are ignored; the key comes from the request path.
func (v *Validator) ParsePatch(payload map[string]any) (*models.RecordPatch, error) {
	if payload == nil {
		return nil, models.ErrInvalidJSON
	}

	var patch models.RecordPatch
	prices := []struct {
		name string
		dst  **decimal.Decimal
	}{
		{FieldHigh, &patch.High},
		{FieldLow, &patch.Low},
		{FieldOpen, &patch.Open},
		{FieldClose, &patch.Close},
	}
	for _, p := range prices {
		raw, present := payload[p.name]
		if !present {
			continue
		}
		d, err := parsePrice(p.name, raw)
		if err != nil {
			return nil, err
		}
		*p.dst = &d
	}

	if raw, present := payload[FieldVolume]; present {
		n, err := parseVolume(raw)
		if err != nil {
			return nil, err
		}
		patch.Volume = &n
	}
	return &patch, nil
}

// ParseKey validates the (trade code, date) pair taken from a request path.
func (v *Validator) ParseKey(tradeCode, date string) (models.RecordKey, error) {
	d, err := ParseDate(date)
	if err != nil {
		return models.RecordKey{}, err
	}
	code, err := parseTradeCode(tradeCode)
	if err != nil {
		return models.RecordKey{}, err
	}
	return models.RecordKey{TradeDate: d, TradeCode: code}, nil
}

// ParseDate accepts strict YYYY-MM-DD calendar dates and returns UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if !dateRegexp.MatchString(s) {
		return time.Time{}, invalid(FieldDate, "expected YYYY-MM-DD")
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, invalid(FieldDate, "not a calendar date")
	}
	return t, nil
}

func (v *Validator) check(rec *models.StockRecord) error {
	err := v.checks.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field, ok := structFields[fe.StructField()]
	if !ok {
		field = strings.ToLower(fe.StructField())
	}
	switch fe.Tag() {
	case "required":
		return invalid(field, "is required")
	case "max":
		return invalid(field, fmt.Sprintf("must be at most %s characters", fe.Param()))
	case "gte":
		return invalid(field, "must not be negative")
	default:
		return invalid(field, "failed "+fe.Tag()+" check")
	}
}

func parseTradeCode(raw any) (string, error) {
	if raw == nil {
		return "", invalid(FieldTradeCode, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalid(FieldTradeCode, "must be a string")
	}
	if s == "" {
		return "", invalid(FieldTradeCode, "is required")
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return "", invalid(FieldTradeCode, "must be valid UTF-8 text without NUL bytes")
	}
	if len([]rune(s)) > maxTradeCodeLen {
		return "", invalid(FieldTradeCode, fmt.Sprintf("must be at most %d characters", maxTradeCodeLen))
	}
	return s, nil
}

func parsePrice(field string, raw any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch x := raw.(type) {
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, invalid(field, "must be a finite number")
		}
		d = decimal.NewFromFloat(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	default:
		return decimal.Zero, invalid(field, "must be a number")
	}
	if err != nil {
		return decimal.Zero, invalid(field, "must be a number")
	}

	d = d.Round(priceScale)
	if d.IsNegative() {
		return decimal.Zero, invalid(field, "must not be negative")
	}
	if d.GreaterThanOrEqual(maxPrice) {
		return decimal.Zero, invalid(field, "exceeds 8 integer digits")
	}
	return d, nil
}

func parseVolume(raw any) (int64, error) {
	var n int64
	switch x := raw.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
			break
		}
		d, err := decimal.NewFromString(x.String())
		if err != nil || !d.Truncate(0).Abs().LessThan(decimal.New(1, 18)) {
			return 0, invalid(FieldVolume, "must be an integer")
		}
		n = d.Truncate(0).IntPart()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, invalid(FieldVolume, "must be an integer")
		}
		n = i
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) >= 1e18 {
			return 0, invalid(FieldVolume, "must be an integer")
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return 0, invalid(FieldVolume, "must be an integer")
	}
	if n < 0 {
		return 0, invalid(FieldVolume, "must not be negative")
	}
	return n, nil
}

func invalid(field, reason string) *models.ValidationError {
	return &models.ValidationError{Field: field, Reason: reason}
}
