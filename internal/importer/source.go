package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kjannette/stockviewer-backend/internal/httputil"
	"github.com/kjannette/stockviewer-backend/internal/models"
)

// Source yields the raw rows of one import batch.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]map[string]any, error)
}

// FileSource reads a JSON array or, for *.csv paths, a CSV file with a
// header row.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Load(ctx context.Context) ([]map[string]any, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &models.SourceError{Source: s.path, Err: err}
	}
	defer f.Close()

	var rows []map[string]any
	if strings.EqualFold(filepath.Ext(s.path), ".csv") {
		rows, err = decodeCSV(f)
	} else {
		rows, err = decodeJSON(f)
	}
	if err != nil {
		return nil, &models.SourceError{Source: s.path, Err: err}
	}
	return rows, ctx.Err()
}

// DefaultFetchBudget bounds a whole HTTPSource load, retries included. It
// stays below the API server's write timeout so POST /import can answer.
const DefaultFetchBudget = 20 * time.Second

// HTTPSource downloads the batch from a URL, retrying transient failures
// within a fixed total budget.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	retry      httputil.RetryConfig
	budget     time.Duration
}

func NewHTTPSource(rawURL string) *HTTPSource {
	return &HTTPSource{
		url:        rawURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		budget: DefaultFetchBudget,
	}
}

func (s *HTTPSource) Name() string {
	if u, err := url.Parse(s.url); err == nil {
		return u.Redacted()
	}
	return s.url
}

func (s *HTTPSource) Load(ctx context.Context) ([]map[string]any, error) {
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, text/csv")
		return req, nil
	})
	if err != nil {
		return nil, &models.SourceError{Source: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.SourceError{Source: s.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var rows []map[string]any
	if isCSV(resp.Header.Get("Content-Type"), s.url) {
		rows, err = decodeCSV(resp.Body)
	} else {
		rows, err = decodeJSON(resp.Body)
	}
	if err != nil {
		return nil, &models.SourceError{Source: s.Name(), Err: err}
	}
	return rows, nil
}

func isCSV(contentType, rawURL string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/csv" {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil {
		return strings.EqualFold(path.Ext(u.Path), ".csv")
	}
	return false
}

func decodeJSON(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode JSON array: %w", err)
	}
	return rows, nil
}

// decodeCSV maps each data row onto the header names. Empty cells are left
// out so they read as absent fields.
func decodeCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty CSV")
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		row := make(map[string]any, len(header))
		for i, v := range rec {
			if v = strings.TrimSpace(v); v != "" {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
