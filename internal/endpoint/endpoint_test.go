package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/NodePath81/netgauge/internal/endpoint/endpointtest"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *endpointtest.Server) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewParsesHostAndPort(t *testing.T) {
	c, err := New(Options{BaseURL: "https://probe.example.com/api"})
	require.NoError(t, err)
	require.Equal(t, "probe.example.com", c.Host())
	require.Equal(t, 443, c.Port())

	c, err = New(Options{BaseURL: "http://[::1]:8080"})
	require.NoError(t, err)
	require.Equal(t, "::1", c.Host())
	require.Equal(t, 8080, c.Port())

	_, err = New(Options{BaseURL: "  "})
	require.Error(t, err)
}

func TestProbeValues(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	c := newClient(t, srv)

	val, err := c.Probe(context.Background(), "ip")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", val)

	val, err = c.Probe(context.Background(), "ports")
	require.NoError(t, err)
	require.Equal(t, []any{float64(22), float64(443)}, val)
	require.Equal(t, 1, srv.Calls("ports"))
}

func TestProbeErrorBody(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.FailProbe("ssl", "certificate expired")
	c := newClient(t, srv)

	_, err := c.Probe(context.Background(), "ssl")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "certificate expired", err.Error())
	require.Equal(t, http.StatusInternalServerError, remote.Status)
}

func TestProbeMissingKeyAndUnknown(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.SetProbe("vuln", func(int) (int, map[string]any) {
		return http.StatusOK, map[string]any{"other": 1}
	})
	c := newClient(t, srv)

	_, err := c.Probe(context.Background(), "vuln")
	require.ErrorIs(t, err, ErrMissingValue)

	_, err = c.Probe(context.Background(), "traceroute")
	require.ErrorIs(t, err, ErrUnknownProbe)
}

func TestDownload(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.SetPayload([]byte("0123456789"))
	c := newClient(t, srv)

	stream, err := c.Download(context.Background())
	require.NoError(t, err)
	defer stream.Body.Close()
	require.EqualValues(t, 10, stream.ContentLength)
	data, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))
	require.NotNil(t, stream.Conn)
	_, ok := TCPConn(stream.Conn)
	require.True(t, ok)
}

func TestUpload(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.SetUploadTime(250)
	c := newClient(t, srv)

	start := time.UnixMilli(1_700_000_000_123)
	d, ok, err := c.Upload(context.Background(), make([]byte, 4096), start)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 250*time.Millisecond, d)
	require.Equal(t, 4096, srv.UploadedBytes())
	require.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), srv.StartHeader())
}

func TestUploadWithoutServerTime(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	c := newClient(t, srv)

	_, ok, err := c.Upload(context.Background(), []byte("abc"), time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUploadError(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.FailUpload("disk full")
	c := newClient(t, srv)

	_, _, err := c.Upload(context.Background(), []byte("abc"), time.Now())
	require.EqualError(t, err, "disk full")
}

func TestDownloadOutlivesProbeTimeout(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.SetPayload(make([]byte, 16*1024))
	srv.SlowDownload(100 * time.Millisecond)
	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := c.Download(ctx)
	require.NoError(t, err)
	defer stream.Body.Close()
	data, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.Len(t, data, 16*1024)
}

func TestProbeTimeout(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	srv.SetProbe("nmap", func(int) (int, map[string]any) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, map[string]any{"nmap": "late"}
	})
	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Probe(context.Background(), "nmap")
	require.Error(t, err)
	require.Less(t, time.Since(start), 250*time.Millisecond)
}
