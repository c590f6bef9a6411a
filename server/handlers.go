package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/categorize"
	"github.com/wolfeidau/mediafetch/fetch"
	"github.com/wolfeidau/mediafetch/provider"
	"github.com/wolfeidau/mediafetch/telemetry"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// statsResponse combines ledger, usage, and cache statistics.
type statsResponse struct {
	TotalRecords    int   `json:"total_records"`
	TotalBytes      int64 `json:"total_bytes"`
	TotalFetches    int64 `json:"total_fetches"`
	TotalSearches   int64 `json:"total_searches"`
	DistinctAssets  int64 `json:"distinct_assets"`
	DistinctQueries int64 `json:"distinct_queries"`
	CachedSearches  int   `json:"cached_searches"`
}

// handleStats handles service statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ledgerStats := s.ledger.GetStats()

	usageStats, err := s.usage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		TotalRecords:    ledgerStats.TotalRecords,
		TotalBytes:      ledgerStats.TotalBytes,
		TotalFetches:    usageStats.TotalFetches,
		TotalSearches:   usageStats.TotalSearches,
		DistinctAssets:  usageStats.DistinctAssets,
		DistinctQueries: usageStats.DistinctQueries,
		CachedSearches:  s.cache.Len(),
	})
}

// handleSearch handles catalog search requests. Responses are memoized
// in the TTL cache; concurrent misses for the same key collapse into a
// single upstream request.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing query parameter"))
		return
	}
	page := intParam(r, "page", 1)
	perPage := intParam(r, "per_page", 15)

	key := fmt.Sprintf("search:%s|%d|%d", query, page, perPage)

	if cached, ok := s.cache.Get(key); ok {
		telemetry.RecordCacheLookup(r.Context(), true)
		s.writeJSON(w, http.StatusOK, cached)
		return
	}
	telemetry.RecordCacheLookup(r.Context(), false)

	v, err, _ := s.searchGroup.Do(key, func() (any, error) {
		result, err := s.catalog.Search(r.Context(), query, page, perPage)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, result, 0)
		return result, nil
	})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	if err := s.usage.RecordSearch(r.Context(), query); err != nil {
		s.logger.Warn("recording search", "error", err)
	}

	s.writeJSON(w, http.StatusOK, v)
}

// handleGetVideo resolves a single asset by id, memoizing hits in the
// same TTL cache as searches.
func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid asset id: %w", err))
		return
	}

	key := fmt.Sprintf("video:%d", id)
	if cached, ok := s.cache.Get(key); ok {
		telemetry.RecordCacheLookup(r.Context(), true)
		s.writeJSON(w, http.StatusOK, cached)
		return
	}
	telemetry.RecordCacheLookup(r.Context(), false)

	asset, err := s.catalog.GetVideo(r.Context(), id)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.cache.Set(key, asset, 0)

	s.writeJSON(w, http.StatusOK, asset)
}

// fetchRequest is the body for POST /fetch.
type fetchRequest struct {
	ID       int64              `json:"id"`
	Quality  mediafetch.Quality `json:"quality,omitempty"`
	Filename string             `json:"filename,omitempty"`
	Category string             `json:"category,omitempty"`
}

// handleFetch resolves an asset and fetches it. Download failures are
// reported in the result body with HTTP 200; only request-shape and
// catalog errors map to error statuses.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.ID == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("missing asset id"))
		return
	}
	if req.Quality != "" && !req.Quality.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid quality %q", req.Quality))
		return
	}

	asset, err := s.catalog.GetVideo(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	result := s.fetcher.Fetch(r.Context(), asset, fetch.Options{
		Quality:  req.Quality,
		Filename: req.Filename,
		Category: req.Category,
	})
	s.recordFetchUsage(r, result)

	s.writeJSON(w, http.StatusOK, result)
}

// batchRequest is the body for POST /batch.
type batchRequest struct {
	Query     string             `json:"query"`
	Page      int                `json:"page,omitempty"`
	PerPage   int                `json:"per_page,omitempty"`
	Quality   mediafetch.Quality `json:"quality,omitempty"`
	Category  string             `json:"category,omitempty"`
	MaxVideos int                `json:"max_videos,omitempty"`
	Filter    *fetch.Filter      `json:"filter,omitempty"`
}

// handleBatch searches the catalog and fetches the filtered results.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing query"))
		return
	}
	if req.Quality != "" && !req.Quality.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid quality %q", req.Quality))
		return
	}

	page, err := s.catalog.Search(r.Context(), req.Query, req.Page, req.PerPage)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	batch := s.fetcher.BatchFetch(r.Context(), page.Assets, fetch.BatchOptions{
		Options: fetch.Options{
			Quality:  req.Quality,
			Category: req.Category,
		},
		MaxVideos: req.MaxVideos,
		Filter:    req.Filter,
	})
	for _, result := range batch.Results {
		s.recordFetchUsage(r, result)
	}

	s.writeJSON(w, http.StatusOK, batch)
}

// handleDownloads lists ledger records.
func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	records := s.fetcher.List(fetch.ListOptions{
		Category: r.URL.Query().Get("category"),
		SortBy:   fetch.SortOrder(r.URL.Query().Get("sort")),
		Limit:    intParam(r, "limit", 0),
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(records),
		"downloads": records,
	})
}

// handleCategorize runs a categorization pass over the ledger.
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var opts categorize.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	result, err := s.categorizer.Categorize(r.Context(), opts)
	if err != nil {
		s.writeCategorizeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleCategorizePreview reports category assignments without moving
// anything.
func (s *Server) handleCategorizePreview(w http.ResponseWriter, r *http.Request) {
	var opts categorize.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	preview, err := s.categorizer.Preview(opts)
	if err != nil {
		s.writeCategorizeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) writeCategorizeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, categorize.ErrUnknownScheme):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, categorize.ErrNothingToCategorize):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

// handleCacheDelete removes one cached search entry.
func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	removed := s.cache.Delete(key)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"removed": removed,
	})
}

// handleCacheClear empties the search cache.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.cache.Len()
	s.cache.Clear()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"cleared": cleared,
	})
}

// recordFetchUsage records a completed transfer in the usage database.
// Reused results are not usage: nothing was downloaded.
func (s *Server) recordFetchUsage(r *http.Request, result *fetch.Result) {
	if result.Status != fetch.StatusSuccess || result.Reused {
		return
	}
	if err := s.usage.RecordFetch(r.Context(), result.AssetID, result.Size); err != nil {
		s.logger.Warn("recording fetch", "asset_id", result.AssetID, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
