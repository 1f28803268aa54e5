package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/coordinator"
	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/storage"
	"github.com/hyperjump/semcache/internal/vector"
)

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req models.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.Add(r.Context(), req.ID, req.Context); err != nil {
		s.logger.Error("add failed", zap.Int64("id", req.ID), zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if s.scheduler != nil {
		s.scheduler.Request()
	}
	s.respondJSON(w, http.StatusOK, models.StatusResponse{Status: "success"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold := req.Threshold(s.DefaultThreshold())
	match, err := s.coord.Query(r.Context(), req.Context, threshold)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if match == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondJSON(w, http.StatusOK, models.QueryResponse{ID: match.ID, Distance: match.Distance})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Rebuild(r.Context()); err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.StatusResponse{Status: "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.coord.Stats()
	resp := models.IndexStatus{
		Backend:                  st.Backend,
		Dimensions:               st.Index.Dimensions,
		Metric:                   st.Index.Metric,
		Entries:                  st.Index.Entries,
		Queryable:                st.Index.Queryable,
		State:                    st.Index.StateName,
		Rebuilds:                 st.Rebuilds,
		LastRebuildMillis:        st.LastRebuildMillis,
		DefaultDistanceThreshold: s.DefaultThreshold(),
		EmbeddingDimensions:      s.config.Embedding.Dimensions,
		IndexPath:                s.config.Storage.IndexPath,
	}
	if s.scheduler != nil {
		sst := s.scheduler.Stats()
		resp.RebuildRequests = sst.Requested
		resp.FailedRebuilds = sst.Failures
	}
	if s.config.Storage.IndexPath != "" {
		usage, err := storage.SnapshotUsage(s.config.Storage.IndexPath, s.config.Storage.IDMapPath)
		if err != nil {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		} else {
			resp.DiskUsageBytes = usage.Total()
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrInvalidThreshold), errors.Is(err, embedding.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Detail: message})
}
