package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/siteinventory/spdash/internal/bridge"
	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
	"github.com/siteinventory/spdash/internal/render"
	"github.com/siteinventory/spdash/internal/source"
	"github.com/siteinventory/spdash/internal/store"
)

// errBadRequest marks client mistakes that are not ingest or source errors.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUndecodable),
		errors.Is(err, ingest.ErrNameEmpty),
		errors.Is(err, source.ErrUnsupportedURL),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrWebDisabled),
		errors.Is(err, source.ErrBlockedAddress):
		return http.StatusForbidden
	case errors.Is(err, source.ErrNoDriveAccess),
		errors.Is(err, render.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, source.ErrRemoteStatus),
		errors.Is(err, render.ErrRenderFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and answers with the mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// parseOptions reads the view selection from the query string. Unknown
// values are rejected rather than silently ignored.
func parseOptions(r *http.Request) (pipeline.Options, error) {
	q := r.URL.Query()
	opts := pipeline.Options{
		Filters: inventory.Filters{
			FileType: q.Get("fileType"),
			Risk:     q.Get("risk"),
			Category: q.Get("category"),
		},
		Table: inventory.TableQuery{
			Search:  q.Get("q"),
			Sharing: q.Get("sharing"),
		},
	}

	period, err := inventory.ParsePeriod(q.Get("period"))
	if err != nil {
		return opts, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	opts.Period = period

	switch m := inventory.Metric(q.Get("metric")); m {
	case "":
		opts.Metric = inventory.MetricFiles
	case inventory.MetricFiles, inventory.MetricStorage:
		opts.Metric = m
	default:
		return opts, fmt.Errorf("%w: unknown metric %q", errBadRequest, m)
	}

	switch k := inventory.SortKey(q.Get("sort")); k {
	case "", inventory.SortName, inventory.SortFiles, inventory.SortStorage, inventory.SortLastModified:
		opts.Table.SortBy = k
	default:
		return opts, fmt.Errorf("%w: unknown sort column %q", errBadRequest, k)
	}

	switch q.Get("dir") {
	case "", "asc":
	case "desc":
		opts.Table.Desc = true
	default:
		return opts, fmt.Errorf("%w: dir must be asc or desc", errBadRequest)
	}
	return opts, nil
}

// currentDataset returns the session's dataset, the fallback dataset, or
// nil when neither exists. Decoded datasets are cached by ID, so the rows
// are read from the store once rather than on every request.
func (s *Server) currentDataset(ctx context.Context, sess *model.Session) (*model.Dataset, error) {
	id, err := s.store.DatasetID(ctx, sess.ID)
	if errors.Is(err, store.ErrNotFound) {
		return s.fallback.Load(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	ds, err := s.pipeline.Dataset(id, func() (*model.Dataset, error) {
		return s.store.GetDataset(ctx, sess.ID)
	})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted between the two reads.
		return s.fallback.Load(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	return ds, nil
}

// view resolves the request's dataset and options into derived views.
func (s *Server) view(r *http.Request) (*pipeline.View, error) {
	opts, err := parseOptions(r)
	if err != nil {
		return nil, err
	}
	ds, err := s.currentDataset(r.Context(), SessionFromContext(r.Context()))
	if err != nil {
		return nil, err
	}
	opts.Now = s.now()
	return s.pipeline.View(ds, opts), nil
}

// loadDataset ingests data as the session's new dataset, replacing any
// previous one, and notifies the session's listeners. On failure the
// previous dataset is left untouched.
func (s *Server) loadDataset(ctx context.Context, sessionID, name string, data []byte) (*model.Dataset, error) {
	ds, err := ingest.Load(name, data)
	if err != nil {
		return nil, err
	}
	ds.SessionID = sessionID
	if err := s.store.ReplaceDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("storing dataset: %w", err)
	}
	s.pipeline.Remember(ds)
	s.logger.Info("dataset loaded",
		"session", shortID(sessionID),
		"name", ds.Name,
		"rows", len(ds.Rows),
		"bytes", len(data),
	)
	s.hub.Publish(sessionID, bridge.DatasetChanged(ds))
	return ds, nil
}

// datasetInfo is the JSON description of a loaded dataset.
type datasetInfo struct {
	Loaded   bool        `json:"loaded"`
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name,omitempty"`
	SHA256   string      `json:"sha256,omitempty"`
	RowCount int         `json:"rowCount"`
	Headers  []string    `json:"headers"`
	Roles    model.Roles `json:"roles"`
	LoadedAt *time.Time  `json:"loadedAt,omitempty"`
	Shared   bool        `json:"shared"`
}

func (s *Server) describe(ds *model.Dataset, sessionID string) datasetInfo {
	if ds == nil {
		return datasetInfo{Headers: []string{}}
	}
	loaded := ds.LoadedAt
	headers := ds.Headers
	if headers == nil {
		headers = []string{}
	}
	return datasetInfo{
		Loaded:   true,
		ID:       ds.ID,
		Name:     ds.Name,
		SHA256:   ds.SHA256,
		RowCount: len(ds.Rows),
		Headers:  headers,
		Roles:    ds.Roles,
		LoadedAt: &loaded,
		Shared:   ds.SessionID != sessionID,
	}
}

// uploadName picks the dataset name for a raw-body upload.
func uploadName(r *http.Request) string {
	if n := r.URL.Query().Get("name"); n != "" {
		return n
	}
	if n := r.Header.Get("X-Filename"); n != "" {
		return n
	}
	return "upload.csv"
}

// readUpload returns the uploaded file from a multipart "file" field or the
// raw request body, bounded by the configured size.
func (s *Server) readUpload(r *http.Request) (string, []byte, error) {
	limit := s.config.MaxUploadBytes
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		data, _, err := ingest.ReadUpload(r.Body, limit)
		return uploadName(r), data, err
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, fmt.Errorf("%w: no file field in upload", errBadRequest)
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: reading upload: %v", errBadRequest, err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		name := part.FileName()
		if name == "" {
			name = "upload.csv"
		}
		data, _, err := ingest.ReadUpload(part, limit)
		part.Close()
		return name, data, err
	}
}

// HandleUpload replaces the session's dataset with an uploaded CSV.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+1<<20)

	name, data, err := s.readUpload(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = ingest.ErrTooLarge
		}
		s.fail(w, r, err)
		return
	}
	ds, err := s.loadDataset(r.Context(), sess.ID, name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.describe(ds, sess.ID))
}

type importRequest struct {
	URL string `json:"url"`
}

// HandleImport downloads a CSV from a web or Google Drive URL and makes it
// the session's dataset.
func (s *Server) HandleImport(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be JSON with a url field")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	doc, err := s.fetcher.Fetch(r.Context(), req.URL)
	if errors.Is(err, source.ErrBlockedAddress) {
		s.logger.Warn("import refused", "url", req.URL, "error", err)
		writeError(w, http.StatusForbidden, "imports from internal network addresses are not allowed")
		return
	}
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// Network failures talking to the remote host.
			s.logger.Warn("import failed", "url", req.URL, "error", err)
			writeError(w, http.StatusBadGateway, "could not download "+req.URL)
			return
		}
		s.fail(w, r, err)
		return
	}
	ds, err := s.loadDataset(r.Context(), sess.ID, doc.Name, doc.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.describe(ds, sess.ID))
}

// HandleDataset describes the dataset the session currently sees.
func (s *Server) HandleDataset(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	ds, err := s.currentDataset(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(ds, sess.ID))
}

// HandleDeleteDataset drops the session's own dataset.
func (s *Server) HandleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := s.store.DeleteDataset(r.Context(), sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
