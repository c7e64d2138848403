package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"ritual/api/internal/archive"
	"ritual/api/internal/compendium"
	"ritual/api/internal/docstore"
	"ritual/api/internal/export"
	"ritual/api/internal/game"
	"ritual/api/internal/identity"
	"ritual/api/internal/media"
	"ritual/api/internal/session"
)

// maxUploadBytes bounds raw upload bodies before decoding.
const maxUploadBytes = 16 << 20

type HTTPServer struct {
	service       *Service
	corsOrigin    string
	publicBaseURL string
}

func NewHTTPServer(service *Service, corsOrigin, publicBaseURL string) *HTTPServer {
	return &HTTPServer{
		service:       service,
		corsOrigin:    corsOrigin,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"docstore": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["docstore"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/anonymous" {
		id, err := s.service.SignInAnonymously(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "AUTH_ERROR", "Anonymous sign-in failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, id)
		return
	}

	if r.URL.Path == "/api/ws" {
		s.handleWS(w, r)
		return
	}

	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		var body struct {
			GMKey string `json:"gmKey"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		code, err := s.service.CreateSession(r.Context(), body.GMKey)
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"code":    code,
			"joinUrl": s.joinURL(code),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/compendium" {
		s.handleCompendium(w, r)
		return
	}

	if parts := splitPath(r.URL.Path); len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSession(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSession routes /api/sessions/{code}[/...].
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, code string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		asGM := r.URL.Query().Get("gm") == "1"
		if asGM {
			if err := s.service.VerifyGMKey(r.Context(), code, r.Header.Get("X-GM-Key")); err != nil {
				status, code_, message, details := mapError(err)
				writeError(w, status, code_, message, details)
				return
			}
		}
		doc, err := s.service.GetSession(r.Context(), code, asGM)
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case len(rest) == 1 && rest[0] == "map" && r.Method == http.MethodPost:
		if !s.requireGMKey(w, r, code) {
			return
		}
		uri, err := s.service.UploadMap(r.Context(), code, http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"map": uri})

	case len(rest) == 1 && rest[0] == "portrait" && r.Method == http.MethodPost:
		uri, err := s.service.IngestPortrait(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"image": uri})

	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		result, err := s.service.Export(r.Context(), code)
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeDownload(w, result)

	case len(rest) == 1 && rest[0] == "import" && r.Method == http.MethodPost:
		if !s.requireGMKey(w, r, code) {
			return
		}
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		if err := s.service.Import(r.Context(), code, data); err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "checkpoint" && r.Method == http.MethodPost:
		if !s.requireGMKey(w, r, code) {
			return
		}
		var body struct {
			Author  string `json:"author"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Author) == "" {
			body.Author = "GM"
		}
		info, err := s.service.Checkpoint(r.Context(), code, body.Author, body.Message)
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, info)

	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		history, err := s.service.History(code, limit)
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkpoints": history})

	case len(rest) == 1 && rest[0] == "restore" && r.Method == http.MethodPost:
		if !s.requireGMKey(w, r, code) {
			return
		}
		var body struct {
			Hash string `json:"hash"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Hash) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "hash is required", nil)
			return
		}
		if err := s.service.Restore(r.Context(), code, body.Hash); err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "qr" && r.Method == http.MethodGet:
		png, err := qrcode.Encode(s.joinURL(code), qrcode.Medium, 256)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "QR generation failed", nil)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)

	case len(rest) == 3 && rest[0] == "sheet" && rest[2] == "pdf" && r.Method == http.MethodGet:
		result, err := s.service.SheetPDF(r.Context(), code, rest[1])
		if err != nil {
			status, code_, message, details := mapError(err)
			writeError(w, status, code_, message, details)
			return
		}
		writeDownload(w, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCompendium(w http.ResponseWriter, r *http.Request) {
	q := compendium.Query{
		Text:       strings.TrimSpace(r.URL.Query().Get("q")),
		FilterKind: compendium.EntryKind(strings.TrimSpace(r.URL.Query().Get("kind"))),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		q.Offset = parsed
	}
	writeJSON(w, http.StatusOK, s.service.SearchCompendium(q))
}

func (s *HTTPServer) joinURL(code string) string {
	return fmt.Sprintf("%s/join?code=%s", s.publicBaseURL, code)
}

// requireIdentity authenticates the bearer token and returns its uid.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_ERROR", "Unauthorized", nil)
		return "", false
	}
	uid, err := s.service.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_ERROR", "Unauthorized", nil)
		return "", false
	}
	return uid, true
}

// requireGMKey guards GM-only routes with the session's key.
func (s *HTTPServer) requireGMKey(w http.ResponseWriter, r *http.Request, code string) bool {
	if err := s.service.VerifyGMKey(r.Context(), code, r.Header.Get("X-GM-Key")); err != nil {
		status, code_, message, details := mapError(err)
		writeError(w, status, code_, message, details)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
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

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-GM-Key")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func writeDownload(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrExpiredToken):
		return http.StatusUnauthorized, "AUTH_ERROR", "Unauthorized", nil
	case errors.Is(err, ErrGMKeyMismatch), errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Image too large", nil
	case errors.Is(err, media.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported image format", nil
	case errors.Is(err, export.ErrImportParse):
		return http.StatusUnprocessableEntity, "IMPORT_PARSE_ERROR", "Import file did not parse", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering unavailable", nil
	case errors.Is(err, archive.ErrNoCheckpoints):
		return http.StatusNotFound, "NOT_FOUND", "No checkpoints for session", nil
	case errors.Is(err, game.ErrEntityNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Entity not found", nil
	case errors.Is(err, game.ErrUnknownStat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown stat", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
