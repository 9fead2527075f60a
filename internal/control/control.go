package control

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/estimate"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/metrics"
	"github.com/NodePath81/netgauge/internal/units"
	"github.com/NodePath81/netgauge/internal/util"
	"github.com/NodePath81/netgauge/internal/version"
	"github.com/gorilla/websocket"
)

const (
	maxRPCBodyBytes   = 1 << 20
	rpcRatePerSecond  = 5
	rpcRateBurst      = 10
	wsTokenPrefix     = "netgauge-token."
	wsPrimaryProtocol = "netgauge"
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

// Runner is the diagnostic orchestrator as the control server drives it.
type Runner interface {
	Run(ctx context.Context) (*diag.Report, error)
	Running() bool
	Last() *diag.Report
	Subscribe(obs diag.Observer) func()
}

type ControlServer struct {
	cfg       config.ControlConfig
	estimate  config.EstimateConfig
	runner    Runner
	history   history.Recorder
	metrics   *metrics.Metrics
	hub       *StatusHub
	restartFn func() error
	logger    util.Logger
	server    *http.Server
	limiter   *rateLimiter

	runCtx context.Context
	runMu  sync.Mutex
	runs   sync.WaitGroup
}

func NewControlServer(cfg config.Config, runner Runner, hist history.Recorder, metrics *metrics.Metrics, hub *StatusHub, restartFn func() error, logger util.Logger) *ControlServer {
	return &ControlServer{
		cfg:       cfg.Control,
		estimate:  cfg.Estimate,
		runner:    runner,
		history:   hist,
		metrics:   metrics,
		hub:       hub,
		restartFn: restartFn,
		logger:    logger,
		limiter:   newRateLimiter(rpcRatePerSecond, rpcRateBurst, 5*time.Minute),
		runCtx:    context.Background(),
	}
}

// Handler returns the control mux without binding a listener.
func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", c.handleMetrics)
	}
	mux.HandleFunc("/rpc", c.handleRPC)
	mux.HandleFunc("/status", c.handleStatus)
	return mux
}

func (c *ControlServer) Start(ctx context.Context) error {
	c.runMu.Lock()
	c.runCtx = ctx
	c.runMu.Unlock()

	addr := util.NetJoin(c.cfg.BindAddr, c.cfg.BindPort)
	c.server = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", addr)
	return nil
}

// Shutdown stops serving and waits for runs started over RPC to finish.
func (c *ControlServer) Shutdown(ctx context.Context) error {
	var err error
	if c.server != nil {
		err = c.server.Shutdown(ctx)
	}
	c.runs.Wait()
	return err
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// estimateParams accepts either payload_bytes or a size with its unit.
// Zero speeds, latency and an empty medium fall back to the configured
// estimate defaults.
type estimateParams struct {
	estimate.Params
	Size float64 `json:"size"`
	Unit string  `json:"unit"`
}

type runStartedResponse struct {
	Running bool `json:"running"`
}

type historyResponse struct {
	Snapshots []history.Snapshot `json:"snapshots"`
}

type resultsResponse struct {
	Running bool         `json:"running"`
	Version string       `json:"version"`
	Report  *diag.Report `json:"report,omitempty"`
}

func (c *ControlServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}
	switch req.Method {
	case "RunDiagnostics":
		if c.runner.Running() {
			writeJSON(w, http.StatusConflict, rpcResponse{Ok: false, Error: diag.ErrRunInProgress.Error()})
			return
		}
		c.runMu.Lock()
		ctx := c.runCtx
		c.runMu.Unlock()
		c.runs.Add(1)
		go func() {
			defer c.runs.Done()
			c.logger.Info("diagnostic run triggered", "source", "rpc")
			if _, err := c.runner.Run(ctx); err != nil {
				if errors.Is(err, diag.ErrRunInProgress) {
					c.logger.Warn("diagnostic run skipped", "error", err)
					return
				}
				c.logger.Warn("diagnostic run failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: runStartedResponse{Running: true}})
	case "GetResults":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: resultsResponse{
			Running: c.runner.Running(),
			Version: version.Version,
			Report:  c.runner.Last(),
		}})
	case "GetHistory":
		snaps, err := c.history.All(r.Context())
		if err != nil {
			c.logger.Error("history read failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, rpcResponse{Ok: false, Error: "history unavailable"})
			return
		}
		if snaps == nil {
			snaps = []history.Snapshot{}
		}
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: historyResponse{Snapshots: snaps}})
	case "Estimate":
		var params estimateParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
				return
			}
		}
		p, err := c.estimateInput(params)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: err.Error()})
			return
		}
		res, err := estimate.Estimate(p)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: err.Error()})
			return
		}
		if c.metrics != nil {
			c.metrics.IncEstimates()
		}
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: res})
	case "Restart":
		if c.restartFn == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "restart unavailable"})
			return
		}
		go func() {
			c.logger.Info("restart invoked")
			if err := c.restartFn(); err != nil {
				c.logger.Error("restart failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func (c *ControlServer) estimateInput(params estimateParams) (estimate.Params, error) {
	p := params.Params
	if params.Size > 0 {
		unit := units.MB
		if params.Unit != "" {
			u, err := units.ParseUnit(params.Unit)
			if err != nil {
				return estimate.Params{}, err
			}
			unit = u
		}
		p.PayloadBytes = units.ToBytes(params.Size, unit)
	}
	if p.Medium == "" {
		p.Medium = estimate.Medium(c.estimate.DefaultMedium)
	}
	if p.NominalDownloadMbps == 0 {
		p.NominalDownloadMbps = c.estimate.DownloadMbps
	}
	if p.NominalUploadMbps == 0 {
		p.NominalUploadMbps = c.estimate.UploadMbps
	}
	if p.LatencyMs == 0 {
		p.LatencyMs = c.estimate.DefaultLatency
	}
	if err := p.Validate(); err != nil {
		return estimate.Params{}, err
	}
	return p, nil
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !c.checkStatusAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return c.originAllowed(r) },
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	client := newStatusClient()
	c.hub.Register(client)

	var closeOnce sync.Once
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	sendJSON := func(payload any) {
		select {
		case <-done:
			return
		default:
		}
		data, _ := json.Marshal(payload)
		client.trySend(data)
	}

	sendSnapshot := func() {
		sendJSON(statusMessage{
			SchemaVersion: statusSchemaVersion,
			Type:          messageSnapshot,
			Running:       c.runner.Running(),
			Report:        c.runner.Last(),
		})
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			closeConn()
			c.hub.Unregister(client)
		})
	}

	sendSnapshot()

	go func() {
		defer cleanup()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			switch req.Type {
			case "snapshot":
				sendSnapshot()
			default:
				sendJSON(statusMessage{
					SchemaVersion: statusSchemaVersion,
					Type:          messageError,
					Error:         "unknown request type",
				})
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

func (c *ControlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c.metrics.Handler(w, r)
}

func (c *ControlServer) checkAuth(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, c.cfg.AuthToken)
}

func (c *ControlServer) checkStatusAuth(r *http.Request) bool {
	if token, ok := bearerToken(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	if token, ok := tokenFromWebSocketProtocols(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// tokenFromWebSocketProtocols reads a base64url token offered as a
// "netgauge-token.<token>" subprotocol, for browsers that cannot set headers.
func tokenFromWebSocketProtocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		encoded, ok := strings.CutPrefix(proto, wsTokenPrefix)
		if !ok || encoded == "" {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded), true
	}
	return "", false
}

func secureTokenEqual(a, b string) bool {
	if a == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (c *ControlServer) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    float64
	burst   float64
	ttl     time.Duration
	now     func() time.Time
}

type clientLimiter struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rate float64, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate,
		burst:   float64(burst),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket. Idle buckets expire after ttl.
func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter := r.clients[key]
	if limiter != nil && now.Sub(limiter.last) > r.ttl {
		delete(r.clients, key)
		limiter = nil
	}
	if limiter == nil {
		r.clients[key] = &clientLimiter{
			tokens: r.burst - 1,
			last:   now,
		}
		return true
	}
	elapsed := now.Sub(limiter.last).Seconds()
	limiter.tokens = util.ClampFloat(limiter.tokens+elapsed*r.rate, 0, r.burst)
	limiter.last = now
	if limiter.tokens < 1 {
		return false
	}
	limiter.tokens -= 1
	return true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
