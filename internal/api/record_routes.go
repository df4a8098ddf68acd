package api

import (
	"net/http"

	"github.com/kjannette/stockviewer-backend/internal/models"
)

type recordJSON struct {
	Date      string  `json:"date"`
	TradeCode string  `json:"trade_code"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

func toRecordJSON(rec *models.StockRecord) recordJSON {
	return recordJSON{
		Date:      rec.Key().Date(),
		TradeCode: rec.TradeCode,
		High:      rec.High.InexactFloat64(),
		Low:       rec.Low.InexactFloat64(),
		Open:      rec.Open.InexactFloat64(),
		Close:     rec.Close.InexactFloat64(),
		Volume:    rec.Volume,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, err := readObject(w, r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	rec, err := s.validator.ParseRecord(payload)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	created, err := s.store.Create(r.Context(), rec)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordJSON(created))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	out := make([]recordJSON, len(recs))
	for i := range recs {
		out[i] = toRecordJSON(&recs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := s.validator.ParseKey(r.PathValue("tradeCode"), r.PathValue("date"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	rec, err := s.store.Get(r.Context(), key)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

// handleUpdate applies a partial update. date and trade_code in the body
// are ignored; the key comes from the path.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key, err := s.validator.ParseKey(r.PathValue("tradeCode"), r.PathValue("date"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	payload, err := readObject(w, r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	patch, err := s.validator.ParsePatch(payload)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	updated, err := s.store.Update(r.Context(), key, patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(updated))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := s.validator.ParseKey(r.PathValue("tradeCode"), r.PathValue("date"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	if err := s.store.Delete(r.Context(), key); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stock data deleted successfully!"})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusServiceUnavailable, "import is not configured")
		return
	}

	sum, err := s.importer.Run(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}
