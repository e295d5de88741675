package httpapi

import (
	"net/http"
	"strconv"

	"github.com/kitt-bench/controller/internal/apperrors"
	core "github.com/kitt-bench/controller/internal/core/service"
	"github.com/kitt-bench/controller/internal/domain"
)

func (s *Server) handleRunsQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RunFilter{
		Model:  q.Get("model"),
		Engine: q.Get("engine"),
		Suite:  q.Get("suite"),
		Cursor: q.Get("cursor"),
	}
	rawLimit, _ := strconv.Atoi(q.Get("limit"))
	filter.Limit = core.ClampLimit(rawLimit, core.DefaultListLimit, core.MaxListLimit)
	runs, next, err := s.store.QueryRuns(r.Context(), filter)
	if err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: query runs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "next_cursor": next})
}

func (s *Server) handleRunsAggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupBy := q.Get("group_by")
	metric := q.Get("metric")
	if groupBy == "" || metric == "" {
		s.errOut(w, apperrors.Validation("httpapi: aggregate requires group_by and metric"))
		return
	}
	filter := domain.RunFilter{Model: q.Get("model"), Engine: q.Get("engine"), Suite: q.Get("suite")}
	stats, err := s.store.Aggregate(r.Context(), groupBy, metric, filter)
	if err != nil {
		s.errOut(w, apperrors.Fatal(err, "httpapi: aggregate runs"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
