package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/siteinventory/spdash/internal/export"
	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
	"github.com/siteinventory/spdash/internal/render"
)

// withView resolves the request's view and hands it to fn.
func (s *Server) withView(fn func(w http.ResponseWriter, r *http.Request, v *pipeline.View)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.view(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		fn(w, r, v)
	}
}

type summaryResponse struct {
	Dataset      string        `json:"dataset"`
	RowCount     int           `json:"rowCount"`
	FilteredRows int           `json:"filteredRows"`
	Roles        model.Roles   `json:"roles"`
	Summary      model.Summary `json:"summary"`
}

// HandleSummary returns the dashboard-wide metrics for the active filters.
func (s *Server) HandleSummary(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		writeJSON(w, http.StatusOK, summaryResponse{
			Dataset:      v.Dataset.Name,
			RowCount:     len(v.Dataset.Rows),
			FilteredRows: len(v.Rows),
			Roles:        v.Roles,
			Summary:      v.Summary,
		})
	})(w, r)
}

// HandleSites returns the site table after search, sharing filter and sort.
func (s *Server) HandleSites(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total": len(v.Sites),
			"sites": nonNil(v.Table),
		})
	})(w, r)
}

// HandleStale returns the sites holding files older than the period.
func (s *Server) HandleStale(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		period, _ := inventory.ParsePeriod(r.URL.Query().Get("period"))
		writeJSON(w, http.StatusOK, map[string]any{
			"period":    period,
			"threshold": v.Threshold.Format("2006-01-02"),
			"available": v.Roles.LastModified != "",
			"sites":     nonNil(v.Stale),
		})
	})(w, r)
}

// HandleGravity returns the top sites by file count or storage.
func (s *Server) HandleGravity(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		metric := inventory.Metric(r.URL.Query().Get("metric"))
		if metric == "" {
			metric = inventory.MetricFiles
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"metric":  metric,
			"entries": nonNil(v.Gravity),
		})
	})(w, r)
}

// HandleFileTypes returns the file-type distribution of the filtered rows.
func (s *Server) HandleFileTypes(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		writeJSON(w, http.StatusOK, nonNil(v.FileTypes))
	})(w, r)
}

// HandleExtensions returns the file-type filter choices, drawn from every
// row of the dataset.
func (s *Server) HandleExtensions(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		writeJSON(w, http.StatusOK, nonNil(v.Extensions))
	})(w, r)
}

// HandleExport downloads a view as CSV, JSON or YAML.
func (s *Server) HandleExport(w http.ResponseWriter, r *http.Request) {
	view, err := export.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		var buf bytes.Buffer
		if err := export.Build(view, v.Table, v.Stale, v.Gravity).Write(&buf, format); err != nil {
			s.fail(w, r, err)
			return
		}
		filename := fmt.Sprintf("sharepoint-%s-%s.%s", view, s.now().Format("2006-01-02"), format)
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		_, _ = w.Write(buf.Bytes())
	})(w, r)
}

// reportData is what the printable report template sees.
func (s *Server) reportData(v *pipeline.View) map[string]any {
	return map[string]any{
		"Dataset":     v.Dataset,
		"Summary":     v.Summary,
		"Sites":       v.Table,
		"Stale":       v.Stale,
		"Gravity":     v.Gravity,
		"FileTypes":   v.FileTypes,
		"Threshold":   v.Threshold,
		"HasDates":    v.Roles.LastModified != "",
		"GeneratedAt": s.now().UTC(),
	}
}

// HandleIndex renders the dashboard shell.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, "dashboard.html", map[string]any{
		"Periods": inventory.Periods,
		"Sharing": model.SharingLevels,
		"Risks":   []model.RiskProfile{model.RiskCritical, model.RiskMedium, model.RiskLow},
		"Categories": []model.ContentCategory{
			model.CategoryBusiness, model.CategorySystem, model.CategoryMedia, model.CategoryOther,
		},
	})
}

// HandleReport renders the printable report for the current selection.
func (s *Server) HandleReport(w http.ResponseWriter, r *http.Request) {
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		s.page(w, r, "report.html", s.reportData(v))
	})(w, r)
}

// HandleRender sends the printable report to the render service and
// returns the captured document as a download.
func (s *Server) HandleRender(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		s.fail(w, r, render.ErrNotConfigured)
		return
	}
	s.withView(func(w http.ResponseWriter, r *http.Request, v *pipeline.View) {
		html, err := s.renderTemplate("report.html", s.reportData(v))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out, contentType, err := s.renderer.Render(r.Context(), html)
		if err != nil {
			s.logger.Warn("render failed", "error", err)
			s.fail(w, r, err)
			return
		}
		filename := "sharepoint-report-" + s.now().Format("2006-01-02") + render.Extension(contentType)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		_, _ = w.Write(out)
	})(w, r)
}

// eventKeepAlive is how often an idle event stream sends a comment line.
const eventKeepAlive = 25 * time.Second

// HandleEvents streams dataset notifications for the session as
// Server-Sent Events.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sess := SessionFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.hub.Subscribe(sess.ID)
	defer s.hub.Unsubscribe(sess.ID, ch)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b, err := msg.MarshalJSON()
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, b)
			flusher.Flush()
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
