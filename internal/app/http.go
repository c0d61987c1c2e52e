package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"artiklo/api/internal/auth"
	"artiklo/api/internal/export"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/pipeline"
)

const (
	maxRequestBytes    = 64 << 20
	maxMultipartMemory = 32 << 20
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	trustedProxies []netip.Prefix
}

// NewHTTPServer builds the API handler. trustedProxies lists the peers whose
// X-Forwarded-For header identifies the client; with none the header is
// ignored.
func NewHTTPServer(service *Service, corsOrigin string, trustedProxies ...netip.Prefix) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, trustedProxies: trustedProxies}
}

// ParseTrustedProxies parses CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		if !strings.Contains(value, "/") {
			addr, err := netip.ParseAddr(value)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
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
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
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

	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	origin := s.clientOrigin(r)
	session := sessionFor(identity, r.Header.Get("X-Session-ID"), origin)

	if r.Method == http.MethodPost && r.URL.Path == "/api/analyze" {
		s.handleAnalyze(w, r, identity, session, origin)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/files" {
		input, err := readSubmission(w, r)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		rejections, snapshot := s.service.Stage(r.Context(), session, input)
		if rejections == nil {
			rejections = []intake.Rejection{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"view": snapshot.Body(), "rejected": rejections})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session/view" {
		writeJSON(w, http.StatusOK, map[string]any{"view": s.service.Snapshot(r.Context(), session).Body()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/reset" {
		deferred, snapshot := s.service.Reset(r.Context(), session)
		writeJSON(w, http.StatusOK, map[string]any{"deferred": deferred, "view": snapshot.Body()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/credits" {
		credits, err := s.service.Credits(r.Context(), identity)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"credits": credits})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		documentID := ""
		if len(parts) == 3 {
			documentID = parts[2]
		}
		if len(parts) <= 3 {
			s.handleDocuments(w, r, identity, documentID)
			return
		}
		if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
			s.handleExport(w, r, identity, documentID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request, identity auth.Identity, session sessionRef, origin string) {
	input, err := readSubmission(w, r)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	outcome, snapshot := s.service.Analyze(r.Context(), identity, session, origin, input)
	body := map[string]any{
		"outcome": pipeline.Encode(outcome),
		"view":    snapshot.Body(),
	}
	if failed, ok := outcome.(pipeline.Failed); ok {
		status, code, message, _ := mapError(failed.Err)
		writeError(w, status, code, message, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, identity auth.Identity, documentID string) {
	if documentID == "" && r.Method == http.MethodGet {
		limit, offset := pageParams(r)
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			documents, err := s.service.ListDocuments(r.Context(), identity, limit, offset)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": documents, "limit": limit, "offset": offset})
			return
		}
		resp, err := s.service.SearchDocuments(r.Context(), identity, query, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if documentID != "" && r.Method == http.MethodGet {
		document, err := s.service.GetDocument(r.Context(), identity, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": document})
		return
	}

	if documentID != "" && r.Method == http.MethodDelete {
		if err := s.service.DeleteDocument(r.Context(), identity, documentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": documentID})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, identity auth.Identity, documentID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	result, err := s.service.ExportDocument(r.Context(), identity, documentID, format)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// identify resolves the bearer token. A missing token is the anonymous
// identity; a token that fails verification is rejected.
func (s *HTTPServer) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, err := s.service.Identify(bearerToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return auth.Identity{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Identity lookup failed", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

type fileInput struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type analyzeInput struct {
	Text         string                `json:"text"`
	Model        string                `json:"model"`
	BrowserFiles []fileInput           `json:"browserFiles"`
	DeviceFiles  []intake.DeviceRecord `json:"deviceFiles"`
}

// readSubmission accepts either multipart/form-data (files, device, text,
// model and capture fields) or a JSON body with base64 file data.
func readSubmission(w http.ResponseWriter, r *http.Request) (submissionInput, error) {
	browser := intake.NewBrowserSource()
	device := intake.NewDeviceSource()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return submissionInput{}, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		}
		for _, header := range r.MultipartForm.File["files"] {
			if err := browser.AddMultipart(header); err != nil {
				return submissionInput{}, err
			}
		}
		capture := intake.Capture(strings.TrimSpace(r.FormValue("capture")))
		for _, header := range r.MultipartForm.File["device"] {
			if err := device.AddMultipart(header, capture); err != nil {
				return submissionInput{}, err
			}
		}
		return submissionInput{
			Text:    r.FormValue("text"),
			Model:   r.FormValue("model"),
			Sources: []intake.FileSource{browser, device},
		}, nil
	}

	var body analyzeInput
	if err := decodeBody(r, &body); err != nil {
		return submissionInput{}, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	for _, file := range body.BrowserFiles {
		data, err := base64.StdEncoding.DecodeString(stripDataURL(file.Data))
		if err != nil {
			return submissionInput{}, domainError(http.StatusUnprocessableEntity, "INVALID_FILE", fmt.Sprintf("%s: file data is not valid base64", file.Name), nil)
		}
		browser.Add(file.Name, file.MimeType, data)
	}
	for _, record := range body.DeviceFiles {
		if err := device.Add(record); err != nil {
			return submissionInput{}, err
		}
	}
	return submissionInput{
		Text:    body.Text,
		Model:   body.Model,
		Sources: []intake.FileSource{browser, device},
	}, nil
}

func stripDataURL(data string) string {
	data = strings.TrimSpace(data)
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		return data[idx+len(";base64,"):]
	}
	return data
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// clientOrigin is the caller's address for anonymous rate limiting. It is
// the connection peer unless that peer is a trusted proxy, in which case
// X-Forwarded-For is walked from the right to the first untrusted hop.
func (s *HTTPServer) clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			return host
		}
		if !s.trusted(hop) {
			return hop
		}
	}
	return host
}

func (s *HTTPServer) trusted(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Session-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
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
