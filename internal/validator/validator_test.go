package validator

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, field, verr.Field)
}

func TestParseRecord_FullPayload(t *testing.T) {
	v := New(Options{})
	rec, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","open":10,"high":12,"low":9,"close":11,"volume":1000}`))
	require.NoError(t, err)

	assert.Equal(t, "2024-01-02", rec.TradeDate.Format(models.DateLayout))
	assert.Equal(t, "ABC", rec.TradeCode)
	assert.Equal(t, "10", rec.Open.String())
	assert.Equal(t, "12", rec.High.String())
	assert.Equal(t, "9", rec.Low.String())
	assert.Equal(t, "11", rec.Close.String())
	assert.EqualValues(t, 1000, rec.Volume)
}

func TestParseRecord_PermissiveDefaultsToZero(t *testing.T) {
	v := New(Options{})
	rec, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC"}`))
	require.NoError(t, err)
	assert.True(t, rec.Open.IsZero())
	assert.True(t, rec.Close.IsZero())
	assert.Zero(t, rec.Volume)
}

func TestParseRecord_StrictRejectsMissing(t *testing.T) {
	v := New(Options{RequireAllFields: true})
	_, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","open":1,"high":1,"low":1,"close":1}`))
	requireFieldError(t, err, FieldVolume)

	_, err = v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","open":1,"low":1,"close":1,"volume":5}`))
	requireFieldError(t, err, FieldHigh)
}

func TestParseRecord_Date(t *testing.T) {
	v := New(Options{})
	cases := []string{
		`{"trade_code":"ABC"}`,
		`{"date":null,"trade_code":"ABC"}`,
		`{"date":20240102,"trade_code":"ABC"}`,
		`{"date":"2024/01/02","trade_code":"ABC"}`,
		`{"date":"2024-13-01","trade_code":"ABC"}`,
		`{"date":"2024-02-30","trade_code":"ABC"}`,
		`{"date":"2024-1-2","trade_code":"ABC"}`,
	}
	for _, body := range cases {
		_, err := v.ParseRecord(decode(t, body))
		requireFieldError(t, err, FieldDate)
	}
}

func TestParseRecord_TradeCode(t *testing.T) {
	v := New(Options{})
	cases := []string{
		`{"date":"2024-01-02"}`,
		`{"date":"2024-01-02","trade_code":""}`,
		`{"date":"2024-01-02","trade_code":42}`,
		`{"date":"2024-01-02","trade_code":"ABCDEFGHIJKLMNOPQRSTU"}`,
		`{"date":"2024-01-02","trade_code":"A\u0000B"}`,
	}
	for _, body := range cases {
		_, err := v.ParseRecord(decode(t, body))
		requireFieldError(t, err, FieldTradeCode)
	}

	_, err := v.ParseRecord(map[string]any{FieldDate: "2024-01-02", FieldTradeCode: "AB\xff"})
	requireFieldError(t, err, FieldTradeCode)

	rec, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.TradeCode, "codes are case-sensitive")
}

func TestParseRecord_Prices(t *testing.T) {
	v := New(Options{})

	rec, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","high":"12.345","low":0.005}`))
	require.NoError(t, err)
	assert.Equal(t, "12.35", rec.High.StringFixed(2))
	assert.Equal(t, "0.01", rec.Low.StringFixed(2))

	bad := map[string]string{
		FieldOpen:  `{"date":"2024-01-02","trade_code":"ABC","open":"abc"}`,
		FieldHigh:  `{"date":"2024-01-02","trade_code":"ABC","high":-1}`,
		FieldLow:   `{"date":"2024-01-02","trade_code":"ABC","low":null}`,
		FieldClose: `{"date":"2024-01-02","trade_code":"ABC","close":100000000}`,
	}
	for field, body := range bad {
		_, err := v.ParseRecord(decode(t, body))
		requireFieldError(t, err, field)
	}

	_, err = v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","open":true}`))
	requireFieldError(t, err, FieldOpen)
}

func TestParseRecord_Volume(t *testing.T) {
	v := New(Options{})

	rec, err := v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","volume":"2500"}`))
	require.NoError(t, err)
	assert.EqualValues(t, 2500, rec.Volume)

	rec, err = v.ParseRecord(decode(t, `{"date":"2024-01-02","trade_code":"ABC","volume":1000.9}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1000, rec.Volume)

	for _, body := range []string{
		`{"date":"2024-01-02","trade_code":"ABC","volume":"lots"}`,
		`{"date":"2024-01-02","trade_code":"ABC","volume":"10.5"}`,
		`{"date":"2024-01-02","trade_code":"ABC","volume":-3}`,
		`{"date":"2024-01-02","trade_code":"ABC","volume":[1]}`,
	} {
		_, err := v.ParseRecord(decode(t, body))
		requireFieldError(t, err, FieldVolume)
	}
}

func TestParseRecord_NilPayload(t *testing.T) {
	_, err := New(Options{}).ParseRecord(nil)
	assert.ErrorIs(t, err, models.ErrInvalidJSON)
}

func TestParsePatch(t *testing.T) {
	v := New(Options{RequireAllFields: true})

	patch, err := v.ParsePatch(decode(t, `{"high":10.5}`))
	require.NoError(t, err)
	require.NotNil(t, patch.High)
	assert.Equal(t, "10.5", patch.High.String())
	assert.Nil(t, patch.Open)
	assert.Nil(t, patch.Low)
	assert.Nil(t, patch.Close)
	assert.Nil(t, patch.Volume)

	patch, err = v.ParsePatch(decode(t, `{"date":"not-a-date","trade_code":"","volume":2000}`))
	require.NoError(t, err, "key fields in the body are ignored")
	require.NotNil(t, patch.Volume)
	assert.EqualValues(t, 2000, *patch.Volume)

	patch, err = v.ParsePatch(decode(t, `{}`))
	require.NoError(t, err)
	assert.True(t, patch.Empty())

	_, err = v.ParsePatch(decode(t, `{"close":"x"}`))
	requireFieldError(t, err, FieldClose)
}

func TestParseKey(t *testing.T) {
	v := New(Options{})

	key, err := v.ParseKey("ABC", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "ABC@2024-01-02", key.String())

	_, err = v.ParseKey("ABC", "2024-01-32")
	requireFieldError(t, err, FieldDate)

	_, err = v.ParseKey("", "2024-01-02")
	requireFieldError(t, err, FieldTradeCode)

	_, err = v.ParseKey("AB\xff", "2024-01-02")
	requireFieldError(t, err, FieldTradeCode)

	_, err = v.ParseKey("A\x00B", "2024-01-02")
	requireFieldError(t, err, FieldTradeCode)
}

func TestParseDate(t *testing.T) {
	for _, d := range []string{"2024-01-15", "2025-12-31", "2020-02-29"} {
		_, err := ParseDate(d)
		assert.NoError(t, err, d)
	}
	for _, d := range []string{"", "2024", "01-15-2024", "2024/01/15", "abcd-ef-gh", "2024-13-01", "2024-01-32", "2024-1-5", "20240115"} {
		_, err := ParseDate(d)
		assert.Error(t, err, d)
	}
}
