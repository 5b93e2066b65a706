// Package testutil provides testing utilities for the Sierra export client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Endpoint paths served by MockSierra.
const (
	TokenPath  = "/iii/sierra-api/v6/token"
	QueryPath  = "/iii/sierra-api/v6/bibs/query"
	ExportPath = "/iii/sierra-api/v6/bibs/marc"
	FilesPath  = "/files/"
)

// CodeRateLimited mirrors the catalog's "too many requests" error code.
const CodeRateLimited = 138

// CodeUnauthorized is the code the mock returns for a rejected bearer token.
const CodeUnauthorized = 123

// ExportRequest records one call to the export endpoint.
type ExportRequest struct {
	IDs           []string
	Limit         string
	Authorization string
}

// MockSierra is a configurable in-process catalog service for testing.
type MockSierra struct {
	server *httptest.Server
	mu     sync.Mutex

	bibIDs           []string
	authStatus       int
	exportFailures   []int
	downloadFailures int
	files            map[string][]byte
	tokenSeq         int
	fileSeq          int

	// Tracking
	TokenCount        int
	QueryCount        int
	ExportCount       int
	DownloadCount     int
	LastAuthHeader    string
	QueryBodies       [][]byte
	ExportRequests    []ExportRequest
	DownloadAuthorize []string
}

// NewMockSierra creates and starts a mock catalog service.
func NewMockSierra() *MockSierra {
	mock := &MockSierra{
		files: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, mock.handleToken)
	mux.HandleFunc(QueryPath, mock.handleQuery)
	mux.HandleFunc(ExportPath, mock.handleExport)
	mux.HandleFunc(FilesPath, mock.handleDownload)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server base URL.
func (m *MockSierra) URL() string {
	return m.server.URL
}

// AuthURL returns the token endpoint URL.
func (m *MockSierra) AuthURL() string { return m.server.URL + TokenPath }

// QueryURL returns the bib query endpoint URL.
func (m *MockSierra) QueryURL() string { return m.server.URL + QueryPath }

// ExportURL returns the MARC export endpoint URL.
func (m *MockSierra) ExportURL() string { return m.server.URL + ExportPath }

// Close shuts down the mock server.
func (m *MockSierra) Close() {
	m.server.Close()
}

// SetBibIDs sets the identifiers returned by every query.
func (m *MockSierra) SetBibIDs(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bibIDs = append([]string(nil), ids...)
}

// RejectAuth makes the token endpoint answer with status.
func (m *MockSierra) RejectAuth(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authStatus = status
}

// FailExports queues error codes; each export call consumes one and fails
// with it before exports start succeeding again.
func (m *MockSierra) FailExports(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportFailures = append(m.exportFailures, codes...)
}

// FailDownloads makes the next n file downloads return 500.
func (m *MockSierra) FailDownloads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadFailures = n
}

// Counts returns token, query, export and download call counts.
func (m *MockSierra) Counts() (token, query, export, download int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokenCount, m.QueryCount, m.ExportCount, m.DownloadCount
}

// Exports returns a copy of the recorded export requests.
func (m *MockSierra) Exports() []ExportRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExportRequest(nil), m.ExportRequests...)
}

// Token returns the bearer token the mock issues on its n-th grant (1-based).
func Token(n int) string {
	return fmt.Sprintf("token-%d", n)
}

// ChunkContent is the file body the mock serves for an export of ids.
func ChunkContent(ids []string) []byte {
	return []byte("<" + strings.Join(ids, ",") + ">\n")
}

func (m *MockSierra) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenCount++
	m.LastAuthHeader = r.Header.Get("Authorization")
	status := m.authStatus
	if status == 0 {
		m.tokenSeq++
	}
	seq := m.tokenSeq
	m.mu.Unlock()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, 0, "Method not allowed")
		return
	}
	if status != 0 {
		writeError(w, status, 0, "Invalid client credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": Token(seq),
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (m *MockSierra) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.QueryCount++
	m.QueryBodies = append(m.QueryBodies, body)
	ids := append([]string(nil), m.bibIDs...)
	m.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
		return
	}

	entries := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]string{
			"link": m.server.URL + "/iii/sierra-api/v6/bibs/" + id,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(ids),
		"entries": entries,
	})
}

func (m *MockSierra) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []string
	if raw := q.Get("id"); raw != "" {
		ids = strings.Split(raw, ",")
	}

	m.mu.Lock()
	m.ExportCount++
	m.ExportRequests = append(m.ExportRequests, ExportRequest{
		IDs:           ids,
		Limit:         q.Get("limit"),
		Authorization: r.Header.Get("Authorization"),
	})
	var failCode int
	if len(m.exportFailures) > 0 {
		failCode = m.exportFailures[0]
		m.exportFailures = m.exportFailures[1:]
	}
	var fileName string
	if failCode == 0 {
		m.fileSeq++
		fileName = fmt.Sprintf("%d.mrc", m.fileSeq)
		m.files[fileName] = ChunkContent(ids)
	}
	m.mu.Unlock()

	switch failCode {
	case 0:
		writeJSON(w, http.StatusOK, map[string]string{"file": m.server.URL + FilesPath + fileName})
	case CodeRateLimited:
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests")
	default:
		writeError(w, http.StatusUnauthorized, failCode, "Unauthorized")
	}
}

func (m *MockSierra) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, FilesPath)

	m.mu.Lock()
	m.DownloadCount++
	m.DownloadAuthorize = append(m.DownloadAuthorize, r.Header.Get("Authorization"))
	fail := m.downloadFailures > 0
	if fail {
		m.downloadFailures--
	}
	content, ok := m.files[name]
	m.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, 109, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, 107, "Record not found")
		return
	}

	w.Header().Set("Content-Type", "application/marc")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, name string) {
	writeJSON(w, status, map[string]any{
		"code":         code,
		"specificCode": 0,
		"httpStatus":   status,
		"name":         name,
		"description":  name,
	})
}
