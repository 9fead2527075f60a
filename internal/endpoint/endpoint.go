// Package endpoint talks to the remote measurement endpoint.
package endpoint

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	StartTimeHeader = "X-Start-Time"
	UploadField     = "file"
	uploadFileName  = "payload.bin"
)

var (
	ErrUnknownProbe = errors.New("unknown probe")
	ErrMissingValue = errors.New("response missing value")
)

// Route is the path a probe is served on and the JSON key carrying its value.
type Route struct {
	Path string
	Key  string
}

var routes = map[string]Route{
	"ip":       {Path: "/ip", Key: "ip"},
	"ping":     {Path: "/ping", Key: "ping"},
	"nmap":     {Path: "/nmap", Key: "nmap"},
	"ports":    {Path: "/open-ports", Key: "ports"},
	"services": {Path: "/services", Key: "services"},
	"vuln":     {Path: "/vuln-scan", Key: "vuln"},
	"ssl":      {Path: "/ssl-check", Key: "ssl"},
	"firewall": {Path: "/firewall-check", Key: "firewall"},
}

// RouteFor returns the route serving probe key.
func RouteFor(key string) (Route, bool) {
	r, ok := routes[key]
	return r, ok
}

// RemoteError is an {"error": ...} body or a non-2xx status.
type RemoteError struct {
	Path    string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: status %d", e.Path, e.Status)
}

type Options struct {
	BaseURL string
	// Timeout bounds each JSON probe request. Download and Upload are
	// bounded only by their context.
	Timeout   time.Duration
	Transport http.RoundTripper
}

type Client struct {
	rc      *resty.Client
	timeout time.Duration
	baseURL string
	host    string
	port    int
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("endpoint base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint base url %q", opts.BaseURL)
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid endpoint port %q", p)
		}
	}
	rc := resty.New().SetBaseURL(base)
	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}
	return &Client{rc: rc, timeout: opts.Timeout, baseURL: base, host: u.Hostname(), port: port}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Host returns the host of the base URL without port.
func (c *Client) Host() string {
	return c.host
}

// Port returns the explicit or scheme-implied port of the base URL.
func (c *Client) Port() int {
	return c.port
}

// Probe fetches one JSON probe and returns the value under its response key.
func (c *Client) Probe(ctx context.Context, key string) (any, error) {
	route, ok := routes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProbe, key)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.rc.R().SetContext(ctx).SetHeader("Accept", "application/json").Get(route.Path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", route.Path, err)
	}
	body := map[string]any{}
	decodeErr := json.Unmarshal(resp.Body(), &body)
	if msg, ok := body["error"]; ok && msg != nil {
		return nil, &RemoteError{Path: route.Path, Status: resp.StatusCode(), Message: fmt.Sprint(msg)}
	}
	if resp.IsError() {
		return nil, &RemoteError{Path: route.Path, Status: resp.StatusCode()}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", route.Path, decodeErr)
	}
	val, ok := body[route.Key]
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", route.Path, ErrMissingValue, route.Key)
	}
	return val, nil
}

// Stream is an open download body. ContentLength is -1 when unknown.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64
	Conn          net.Conn
}

// Download opens the download stream. The caller closes Body.
func (c *Client) Download(ctx context.Context) (*Stream, error) {
	stream := &Stream{ContentLength: -1}
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			stream.Conn = info.Conn
		},
	}
	resp, err := c.rc.R().
		SetContext(httptrace.WithClientTrace(ctx, trace)).
		SetDoNotParseResponse(true).
		Get("/download")
	if err != nil {
		return nil, fmt.Errorf("GET /download: %w", err)
	}
	raw := resp.RawBody()
	if resp.IsError() {
		if raw != nil {
			_ = raw.Close()
		}
		return nil, &RemoteError{Path: "/download", Status: resp.StatusCode()}
	}
	if raw == nil {
		return nil, fmt.Errorf("GET /download: empty body")
	}
	stream.Body = raw
	if resp.RawResponse != nil {
		stream.ContentLength = resp.RawResponse.ContentLength
	}
	return stream, nil
}

type uploadResponse struct {
	UploadTime *float64 `json:"uploadTime"`
	Error      string   `json:"error"`
}

// Upload posts payload as multipart field "file" stamped with start. When
// the endpoint reports uploadTime it is returned with ok set.
func (c *Client) Upload(ctx context.Context, payload []byte, start time.Time) (time.Duration, bool, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader(StartTimeHeader, strconv.FormatInt(start.UnixMilli(), 10)).
		SetFileReader(UploadField, uploadFileName, bytes.NewReader(payload)).
		Post("/upload")
	if err != nil {
		return 0, false, fmt.Errorf("POST /upload: %w", err)
	}
	var body uploadResponse
	decodeErr := json.Unmarshal(resp.Body(), &body)
	if body.Error != "" {
		return 0, false, &RemoteError{Path: "/upload", Status: resp.StatusCode(), Message: body.Error}
	}
	if resp.IsError() {
		return 0, false, &RemoteError{Path: "/upload", Status: resp.StatusCode()}
	}
	if decodeErr != nil || body.UploadTime == nil || *body.UploadTime <= 0 {
		return 0, false, nil
	}
	return time.Duration(*body.UploadTime * float64(time.Millisecond)), true, nil
}

// TCPConn unwraps conn to the underlying TCP connection if there is one.
func TCPConn(conn net.Conn) (*net.TCPConn, bool) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	tcp, ok := conn.(*net.TCPConn)
	return tcp, ok
}
