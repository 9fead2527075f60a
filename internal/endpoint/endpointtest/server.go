// Package endpointtest runs a fake measurement endpoint for tests.
package endpointtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Visit is one handled request: the route key and when the handler ran.
type Visit struct {
	Key   string
	Start time.Time
	End   time.Time
}

// ProbeHandler answers the n-th call (1-based) to a probe route.
type ProbeHandler func(call int) (status int, body map[string]any)

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	payload       []byte
	omitLength    bool
	truncate      bool
	chunkDelay    time.Duration
	uploadTimeMs  float64
	uploadErr     string
	handlers      map[string]ProbeHandler
	calls         map[string]int
	uploadedBytes int
	startHeader   string
	visits        []Visit
}

var probePaths = map[string]string{
	"/ip":             "ip",
	"/ping":           "ping",
	"/nmap":           "nmap",
	"/open-ports":     "ports",
	"/services":       "services",
	"/vuln-scan":      "vuln",
	"/ssl-check":      "ssl",
	"/firewall-check": "firewall",
}

// New starts a server where every probe succeeds and /download serves 64 KiB.
func New() *Server {
	s := &Server{
		payload:  make([]byte, 64*1024),
		handlers: make(map[string]ProbeHandler),
		calls:    make(map[string]int),
	}
	for i := range s.payload {
		s.payload[i] = byte(i)
	}
	mux := http.NewServeMux()
	for path, key := range probePaths {
		mux.HandleFunc(path, s.probe(key))
	}
	mux.HandleFunc("/download", s.download)
	mux.HandleFunc("/upload", s.upload)
	s.Server = httptest.NewServer(mux)
	return s
}

func defaultValue(key string) any {
	switch key {
	case "ip":
		return "203.0.113.7"
	case "ping":
		return 12
	case "ports":
		return []any{22, 443}
	default:
		return key + " ok"
	}
}

func (s *Server) probe(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer s.visit(key, time.Now())
		s.mu.Lock()
		s.calls[key]++
		call := s.calls[key]
		h := s.handlers[key]
		s.mu.Unlock()

		status, body := http.StatusOK, map[string]any{key: defaultValue(key)}
		if h != nil {
			status, body = h(call)
		}
		writeJSON(w, status, body)
	}
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	defer s.visit("download", time.Now())
	s.mu.Lock()
	payload, omit, truncate, delay := s.payload, s.omitLength, s.truncate, s.chunkDelay
	s.calls["download"]++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	switch {
	case truncate:
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)*2))
	case !omit:
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	}
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if omit && flusher != nil {
		flusher.Flush()
	}
	if delay <= 0 {
		_, _ = w.Write(payload)
		return
	}
	for len(payload) > 0 {
		n := min(slowChunk, len(payload))
		if _, err := w.Write(payload[:n]); err != nil {
			return
		}
		payload = payload[n:]
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(delay)
	}
}

const slowChunk = 4 * 1024

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	defer s.visit("upload", time.Now())
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	n, _ := io.Copy(io.Discard, file)
	_ = file.Close()

	s.mu.Lock()
	s.calls["upload"]++
	s.uploadedBytes = int(n)
	s.startHeader = r.Header.Get("X-Start-Time")
	uploadTime, uploadErr := s.uploadTimeMs, s.uploadErr
	s.mu.Unlock()

	if uploadErr != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": uploadErr})
		return
	}
	body := map[string]any{}
	if uploadTime > 0 {
		body["uploadTime"] = uploadTime
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) visit(key string, start time.Time) {
	end := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, Visit{Key: key, Start: start, End: end})
}

// Visits returns handled requests in completion order.
func (s *Server) Visits() []Visit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Visit(nil), s.visits...)
}

// SetProbe overrides the handler for probe key.
func (s *Server) SetProbe(key string, h ProbeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
}

// FailProbe makes probe key always answer {"error": msg}.
func (s *Server) FailProbe(key, msg string) {
	s.SetProbe(key, func(int) (int, map[string]any) {
		return http.StatusInternalServerError, map[string]any{"error": msg}
	})
}

func (s *Server) SetPayload(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
}

// OmitContentLength streams /download without a Content-Length header.
func (s *Server) OmitContentLength() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLength = true
}

// TruncateDownload declares twice the payload length and closes early.
func (s *Server) TruncateDownload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncate = true
}

// SlowDownload serves /download in 4 KiB chunks, sleeping d after each.
func (s *Server) SlowDownload(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkDelay = d
}

func (s *Server) SetUploadTime(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadTimeMs = ms
}

func (s *Server) FailUpload(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = msg
}

// Calls reports how often key was requested ("download" and "upload" included).
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) UploadedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedBytes
}

func (s *Server) StartHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startHeader
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
