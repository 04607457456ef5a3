// Package server exposes the aggregation and scoring pipeline over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flow-analytics/internal/aggregate"
	"github.com/sells-group/flow-analytics/internal/model"
	"github.com/sells-group/flow-analytics/internal/pipeline"
)

// Deps are the handler dependencies.
type Deps struct {
	Pipeline    *pipeline.Pipeline
	CORSOrigins []string
}

// NewHandler returns the API router.
func NewHandler(d Deps) http.Handler {
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/flows", func(r chi.Router) {
		r.Get("/report", handleReport(d.Pipeline))
		r.Get("/scores", handleScores(d.Pipeline))
		r.Get("/{flowID}/scores", handleFlowScores(d.Pipeline))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reportResponse struct {
	Columns     []string              `json:"columns"`
	Rows        []model.Row           `json:"rows"`
	Diagnostics aggregate.Diagnostics `json:"diagnostics"`
}

func handleReport(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := p.Report(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Run-ID", res.Diagnostics.RunID)
		writeJSON(w, http.StatusOK, reportResponse{
			Columns:     model.Columns,
			Rows:        res.Rows,
			Diagnostics: res.Diagnostics,
		})
	}
}

func handleScores(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		report, err := p.Score(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Run-ID", report.Diagnostics.RunID)
		writeJSON(w, http.StatusOK, report)
	}
}

type flowScoresResponse struct {
	WindowEnd   string                `json:"window_end"`
	LatestData  string                `json:"latest_data"`
	Flow        pipeline.FlowScores   `json:"flow"`
	Diagnostics aggregate.Diagnostics `json:"diagnostics"`
}

func handleFlowScores(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		flowID := chi.URLParam(r, "flowID")
		req.FlowIDs = []string{flowID}

		report, err := p.Score(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Run-ID", report.Diagnostics.RunID)

		flow, err := report.FindFlow(flowID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flowScoresResponse{
			WindowEnd:   report.WindowEnd,
			LatestData:  report.LatestData,
			Flow:        flow,
			Diagnostics: report.Diagnostics,
		})
	}
}

// parseRequest reads start, end, mode and flows from the query string.
func parseRequest(r *http.Request) (aggregate.Request, error) {
	q := r.URL.Query()
	var req aggregate.Request
	var errs []string

	start, err := parseDay(q.Get("start"))
	if err != nil {
		errs = append(errs, "start: "+err.Error())
	}
	end, err := parseDay(q.Get("end"))
	if err != nil {
		errs = append(errs, "end: "+err.Error())
	}
	mode, err := aggregate.ParseMode(q.Get("mode"))
	if err != nil {
		errs = append(errs, "mode must be per-day, range or auto")
	}
	if len(errs) == 0 && end.Before(start) {
		errs = append(errs, "end is before start")
	}
	if len(errs) > 0 {
		return req, eris.Wrapf(aggregate.ErrInvalidRequest, "%s", strings.Join(errs, "; "))
	}

	req.Start = start
	req.End = end
	req.Mode = mode
	for id := range strings.SplitSeq(q.Get("flows"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.FlowIDs = append(req.FlowIDs, id)
		}
	}
	return req, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("required (YYYY-MM-DD)")
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("latency", time.Since(start)),
		)
	})
}
