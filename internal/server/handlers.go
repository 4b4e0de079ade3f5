package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/battlewithbytes/modstore/internal/downloads"
	"github.com/battlewithbytes/modstore/internal/protocol"
	"github.com/battlewithbytes/modstore/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := "not configured"
	if s.installer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.installer.Health(ctx); err != nil {
			backend = err.Error()
		} else {
			backend = "ok"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"version":      version.Version,
		"backend":      backend,
		"active_count": s.reg.Snapshot().ActiveCount,
	})
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}

type startDownloadRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := validateDownloadURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.installer == nil {
		writeError(w, http.StatusServiceUnavailable, "installer backend not available")
		return
	}

	id := s.reg.Begin(req.URL, "")
	backendID, err := s.installer.Install(r.Context(), id, req.URL)
	if err != nil {
		s.log.Warnw("backend refused install", "id", id, "url", req.URL, "err", err)
		s.reg.Fail(id, err.Error())
		writeJSON(w, http.StatusBadGateway, map[string]string{"id": id, "error": err.Error()})
		return
	}
	if backendID != "" {
		if err := s.reg.Correlate(id, backendID); err != nil {
			s.log.Warnw("could not correlate install", "id", id, "backend_id", backendID, "err", err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func validateDownloadURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an http(s) URL")
	}
	return nil
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.reg.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "cancelled": cancelled})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n := s.reg.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type protocolRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	var req protocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	link, err := protocol.Parse(req.URI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.installer == nil {
		writeError(w, http.StatusServiceUnavailable, "installer backend not available")
		return
	}

	// The backend picks the id; without one the record appears with its
	// install-start.
	backendID, err := s.installer.Install(r.Context(), "", link.URL)
	if err != nil {
		s.log.Warnw("backend refused protocol install", "url", link.URL, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	id, _ := s.reg.Expect(link.URL, backendID, link.Name)
	s.log.Infow("protocol install handed to backend", "id", id, "backend_id", backendID, "url", link.URL)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         id,
		"backend_id": backendID,
		"url":        link.URL,
		"name":       link.Name,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	ev, err := downloads.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome := s.disp.Dispatch(ev)
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := s.cfg.History.Limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := s.history.Recent(limit)
	if err != nil {
		s.log.Errorw("reading history", "err", err)
		writeError(w, http.StatusInternalServerError, "could not read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
