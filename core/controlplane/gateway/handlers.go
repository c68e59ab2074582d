package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/artifacts"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

const maxBodyBytes = 64 << 10

type createSubmissionRequest struct {
	RepoURL     string   `json:"repo_url"`
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Tools       []string `json:"tools"`
	ImageURL    string   `json:"image_url"`
}

func (s *server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createSubmissionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_argument", "invalid body")
		return
	}
	sub := &registry.Submission{
		ID:               uuid.NewString(),
		RepoURL:          strings.TrimSpace(req.RepoURL),
		Category:         registry.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Name:             strings.TrimSpace(req.Name),
		Description:      strings.TrimSpace(req.Description),
		Tags:             req.Tags,
		Tools:            req.Tools,
		ImageURL:         strings.TrimSpace(req.ImageURL),
		SubmittedBy:      auth.Identity.UID,
		SubmittedByEmail: auth.Identity.Email,
		Status:           registry.StatusPending,
	}
	if err := s.store.CreateSubmission(r.Context(), sub); err != nil {
		if errors.Is(err, registry.ErrInvalid) {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		logging.Error("gateway", "create submission failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := s.bus.Publish(bus.SubjectSubmissionCreated, bus.NewEvent(sub.ID, string(sub.Status), "", sub.SubmittedBy)); err != nil {
		// the pending replayer picks the submission up later
		logging.Error("gateway", "publish submission trigger failed", "submission_id", sub.ID, "error", err)
	}
	logging.Info("gateway", "submission received", "submission_id", sub.ID, "repo", sub.RepoURL, "uid", sub.SubmittedBy)
	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter := registry.ListFilter{Limit: parseLimit(r)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, valid := registry.ParseStatus(raw)
		if !valid {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_argument", "unknown status")
			return
		}
		filter.Status = st
	}
	if !auth.Identity.Admin() {
		filter.SubmittedBy = auth.Identity.UID
	}
	subs, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		logging.Error("gateway", "list submissions failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if !auth.Identity.Admin() {
		for i := range subs {
			subs[i].SubmittedByEmail = ""
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (s *server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireUser(w, r)
	if !ok {
		return
	}
	sub, err := s.store.GetSubmission(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		logging.Error("gateway", "get submission failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	// other users' submissions are reported as missing
	if !auth.Identity.Admin() && sub.SubmittedBy != auth.Identity.UID {
		writeErrorJSON(w, http.StatusNotFound, "not_found", "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleGetManifest returns the manifest text captured when the submission was
// validated. Leaked keys are already redacted in the stored copy.
func (s *server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	sub, err := s.store.GetSubmission(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		logging.Error("gateway", "get submission failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if s.snapshots == nil || sub.ManifestSnapshot == "" {
		writeErrorJSON(w, http.StatusNotFound, "not_found", "no manifest snapshot")
		return
	}
	content, meta, err := s.snapshots.Get(r.Context(), sub.ManifestSnapshot)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "not_found", "manifest snapshot expired")
			return
		}
		logging.Error("gateway", "load manifest snapshot failed", "submission_id", sub.ID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if meta.SourceURL != "" {
		w.Header().Set("X-Manifest-Source", meta.SourceURL)
	}
	if meta.Redacted {
		w.Header().Set("X-Manifest-Redacted", "true")
	}
	if meta.Digest != "" {
		w.Header().Set("ETag", strconv.Quote(meta.Digest))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	res, err := s.review.Approve(r.Context(), tokenFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	res, err := s.review.Reject(r.Context(), tokenFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	res, err := s.review.Resubmit(r.Context(), tokenFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleGrantAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_argument", "invalid body")
		return
	}
	res, err := s.review.GrantAdmin(r.Context(), tokenFromRequest(r), body.Email)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	filter := registry.EntryFilter{
		Query: r.URL.Query().Get("q"),
		Limit: parseLimit(r),
	}
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type"))); raw != "" {
		filter.Category = registry.Category(raw)
		if !filter.Category.Valid() {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_argument", "type must be persona or tool")
			return
		}
	}
	entries, err := s.store.ListEntries(r.Context(), filter)
	if err != nil {
		logging.Error("gateway", "list entries failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		logging.Error("gateway", "get entry failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	logging.Info("gateway", "ws connection attempt", "remote", r.RemoteAddr)
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	clientCh := make(chan *bus.Event, clientBuffer)
	s.clientsMu.Lock()
	s.clients[ws] = clientCh
	s.metrics.SetStreamClients(len(s.clients))
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.metrics.SetStreamClients(len(s.clients))
		s.clientsMu.Unlock()
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-clientCh:
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Error("gateway", "event marshal failed", "error", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parseLimit(r *http.Request) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
