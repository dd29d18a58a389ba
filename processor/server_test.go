package processor

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"flowScope/converter"
	"flowScope/metrics"
	"flowScope/protocol"
	"flowScope/sender"
)

func startServer(t *testing.T, cfg Config) (addr string, stop func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(cfg).Serve(ctx, ln) }()

	stopped := false
	stop = func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return ln.Addr().String(), stop
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn.(*net.TCPConn)
}

func TestServer_DiscardedSessionSendsNoBytes(t *testing.T) {
	addr, _ := startServer(t, Config{MaxFrameBytes: 1 << 20})
	conn := dial(t, addr)

	require.NoError(t, protocol.WriteRequest(conn, protocol.ProfilerStart{Identifier: "p1"}))
	for _, m := range nestedFlow {
		require.NoError(t, protocol.WriteRequest(conn, m))
	}
	require.NoError(t, protocol.WriteRequest(conn, protocol.ProfilerEnd{Save: false}))
	require.NoError(t, conn.CloseWrite())

	rest, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestServer_ConnectionsAreIndependent(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	addr, stop := startServer(t, Config{
		MaxFrameBytes: 1 << 20,
		Renderer:      converter.CollapsedRenderer{},
		Metrics:       m,
	})

	a := dial(t, addr)
	b := dial(t, addr)

	require.NoError(t, protocol.WriteRequest(a, protocol.ProfilerStart{Identifier: "a"}))
	require.NoError(t, protocol.WriteRequest(b, protocol.ProfilerStart{Identifier: "b"}))
	for _, msg := range nestedFlow {
		require.NoError(t, protocol.WriteRequest(a, msg))
	}
	require.NoError(t, protocol.WriteRequest(b, protocol.ProfilerEnd{Save: true}))
	require.NoError(t, protocol.WriteRequest(a, protocol.ProfilerEnd{Save: true}))

	respB, err := protocol.ReadResponse(b, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.ErrorResponse{Identifier: "b", Message: "Failed to create flamegraph"}, respB)

	respA, err := protocol.ReadResponse(a, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.FileResponse{Identifier: "a", Content: []byte("Root 6\nRoot;Sub 4\n")}, respA)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ConnectionsTotal))
	require.Equal(t, float64(2), testutil.ToFloat64(m.ConnectionsActive))

	require.NoError(t, stop())
	require.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionsActive))
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	addr, stop := startServer(t, Config{MaxFrameBytes: 1 << 20})
	conn := dial(t, addr)

	require.NoError(t, protocol.WriteRequest(conn, protocol.ProfilerStart{Identifier: "p1"}))
	require.NoError(t, stop())

	_, err := protocol.ReadResponse(conn, 1<<20)
	require.Error(t, err)

	_, err = net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)
}

func TestServer_ShutdownWaitsForPyroscopeUpload(t *testing.T) {
	var uploaded atomic.Bool
	pyroscope := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		uploaded.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer pyroscope.Close()

	addr, stop := startServer(t, Config{
		MaxFrameBytes: 1 << 20,
		Renderer:      converter.CollapsedRenderer{},
		Unit:          "milliseconds",
		Sender: sender.New(sender.Config{
			PyroscopeURL: pyroscope.URL,
			AppName:      "flowscope",
			Unit:         "milliseconds",
		}),
	})
	conn := dial(t, addr)

	require.NoError(t, protocol.WriteRequest(conn, protocol.ProfilerStart{Identifier: "p1"}))
	for _, m := range nestedFlow {
		require.NoError(t, protocol.WriteRequest(conn, m))
	}
	require.NoError(t, protocol.WriteRequest(conn, protocol.ProfilerEnd{Save: true}))
	_, err := protocol.ReadResponse(conn, 1<<20)
	require.NoError(t, err)

	require.NoError(t, stop())
	require.True(t, uploaded.Load())
}
