package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aidoc/editor/internal/auth"
	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/section"
	"aidoc/editor/internal/util"

	"github.com/golang/glog"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	hostToken  string
}

// NewHTTPServer serves the editor API. When hostToken is set every route
// except health and readiness requires it as a bearer token.
func NewHTTPServer(service *Service, corsOrigin, hostToken string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, hostToken: hostToken}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ok, checks := s.service.Ready(r.Context())
		status, statusCode := "ready", http.StatusOK
		if !ok {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ok,
			"status": status,
			"checks": checks,
		})
		return
	}

	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID, err := parseID(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid project id", nil)
			return
		}
		s.handleProject(w, r, projectID, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.hostToken == "" {
		return true
	}
	token := bearerToken(r)
	if token == "" {
		// browsers cannot set headers on websocket upgrades
		token = r.URL.Query().Get("access_token")
	}
	return auth.BearerMatches(s.hostToken, token)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, projectID int64, parts []string) {
	// Backend calls are not cancelled when the client goes away; their
	// results still have to be applied.
	ctx := context.WithoutCancel(r.Context())

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		view, err := s.service.Project(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return

	case len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost:
		view, applied, err := s.service.Refresh(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "project": view})
		return

	case len(parts) == 1 && parts[0] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			Source      *int `json:"source"`
			Destination *int `json:"destination"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Source == nil || body.Destination == nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "source and destination are required", nil)
			return
		}
		ed, err := s.service.Editor(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		fence, err := ed.Reorder(*body.Source, *body.Destination)
		if err != nil {
			s.fail(w, err)
			return
		}
		state, _ := ed.ReorderState()
		writeJSON(w, http.StatusOK, map[string]any{
			"fence":    fence,
			"state":    state,
			"sections": ed.Snapshot().Sections,
		})
		return

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		resp, err := s.service.Search(ctx, projectID, query, queryInt(r, "limit", 20))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return

	case len(parts) == 1 && parts[0] == "events" && r.Method == http.MethodGet:
		entries, err := s.service.Events(ctx, projectID, queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
		return

	case len(parts) == 1 && parts[0] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, projectID)
		return

	case len(parts) == 1 && parts[0] == "sections" && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ed, err := s.service.Editor(ctx, projectID)
		if err != nil {
			s.fail(w, err)
			return
		}
		created, err := ed.Create(ctx, body.Title)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return

	case len(parts) >= 2 && parts[0] == "sections":
		sectionID, err := parseID(parts[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid section id", nil)
			return
		}
		s.handleSection(ctx, w, r, projectID, sectionID, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSection(ctx context.Context, w http.ResponseWriter, r *http.Request, projectID, sectionID int64, parts []string) {
	action := strings.Join(parts, "/")

	switch {
	case action == "history" && r.Method == http.MethodGet:
		if hash := strings.TrimSpace(r.URL.Query().Get("at")); hash != "" {
			sec, err := s.service.SectionAt(projectID, sectionID, hash)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sec)
			return
		}
		revisions, err := s.service.History(projectID, sectionID, queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": revisions})
		return

	case action == "refinements" && r.Method == http.MethodGet:
		items, err := s.service.Refinements(ctx, projectID, sectionID, queryInt(r, "limit", 20))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	ed, err := s.service.Editor(ctx, projectID)
	if err != nil {
		s.fail(w, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		sec, ok := ed.Section(sectionID)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Section not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, sectionViewOf(ed, sec))

	case action == "" && r.Method == http.MethodDelete:
		if err := ed.Delete(ctx, sectionID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": sectionID})

	case action == "feedback" && r.Method == http.MethodPut:
		var body struct {
			Feedback section.Feedback `json:"feedback"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondSection(w)(ed.SetFeedback(ctx, sectionID, body.Feedback))

	case action == "generate" && r.Method == http.MethodPost:
		s.respondSection(w)(ed.Generate(ctx, sectionID))

	case action == "refine" && r.Method == http.MethodPost:
		var body struct {
			Prompt *string `json:"prompt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		prompt := ed.RefinePrompt(sectionID)
		if body.Prompt != nil {
			prompt = *body.Prompt
		}
		s.respondSection(w)(ed.Refine(ctx, sectionID, prompt))

	case action == "refine/prompt" && r.Method == http.MethodPut:
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if _, ok := ed.Section(sectionID); !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Section not found", nil)
			return
		}
		ed.SetRefinePrompt(sectionID, body.Prompt)
		writeJSON(w, http.StatusOK, map[string]any{"sectionId": sectionID, "prompt": ed.RefinePrompt(sectionID)})

	case action == "notes" && r.Method == http.MethodGet:
		s.respondDraft(ctx, w, ed, sectionID)

	case action == "notes" && r.Method == http.MethodPut:
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := ed.EditNotes(ctx, sectionID, body.Notes); err != nil {
			s.fail(w, err)
			return
		}
		s.respondDraft(ctx, w, ed, sectionID)

	case action == "notes" && r.Method == http.MethodDelete:
		if err := ed.DiscardNotes(ctx, sectionID); err != nil {
			s.fail(w, err)
			return
		}
		s.respondDraft(ctx, w, ed, sectionID)

	case action == "notes/commit" && r.Method == http.MethodPost:
		s.respondSection(w)(ed.CommitNotes(ctx, sectionID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respondSection(w http.ResponseWriter) func(section.Section, error) {
	return func(sec section.Section, err error) {
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sec)
	}
}

func (s *HTTPServer) respondDraft(ctx context.Context, w http.ResponseWriter, ed *editor.Editor, sectionID int64) {
	text, dirty, err := ed.NotesDraft(ctx, sectionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sectionId": sectionID, "notes": text, "dirty": dirty})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		glog.Warningf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		glog.Infof(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
