package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/selector"
)

func TestTCPHandleConnectionProxiesBothDirections(t *testing.T) {
	backendListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind fake backend: %v", err)
	}
	t.Cleanup(func() { backendListener.Close() })
	go func() {
		conn, err := backendListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	proxyListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test proxy listener: %v", err)
	}
	t.Cleanup(func() { proxyListener.Close() })

	dp := config.DataPortConfig{Port: 7778, Protocol: config.ProtocolTCP, Name: "voice"}
	p := newTestProxy(t, &fakeOrchClient{})
	l := &tcpListener{p: p, dp: dp, listener: proxyListener}

	// handleConnection looks the session up as soon as it starts, so the
	// session is installed before the client connects. The client dials
	// the loopback listener, so its IP is 127.0.0.1.
	clientIP := "127.0.0.1"
	backendPort := backendListener.Addr().(*net.TCPAddr).Port
	p.sessions.Upsert(clientIP, selector.Target{
		BackendIP: "127.0.0.1",
		PortMap:   map[selector.PortKey]int{{Port: dp.Port, Protocol: config.ProtocolTCP}: backendPort},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan struct{})
	go func() {
		conn, err := proxyListener.Accept()
		if err != nil {
			return
		}
		close(accepted)
		l.handleConnection(ctx, conn)
	}()

	clientConn, err := net.Dial("tcp", proxyListener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial test proxy listener: %v", err)
	}
	defer clientConn.Close()
	<-accepted

	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("failed to write to proxied connection: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("expected the echoed backend reply, got error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected echoed payload %q, got %q", "hello", buf[:n])
	}
}

func TestTCPHandleConnectionWithNoSessionMappingReturnsEarly(t *testing.T) {
	proxyListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind test proxy listener: %v", err)
	}
	t.Cleanup(func() { proxyListener.Close() })

	dp := config.DataPortConfig{Port: 7779, Protocol: config.ProtocolTCP, Name: "voice"}
	client := &fakeOrchClient{err: apperrors.New(apperrors.CodeNoCandidates, "no candidates available")}
	p := newTestProxy(t, client)
	l := &tcpListener{p: p, dp: dp, listener: proxyListener}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		conn, err := proxyListener.Accept()
		if err != nil {
			return
		}
		l.handleConnection(ctx, conn)
		close(done)
	}()

	clientConn, err := net.Dial("tcp", proxyListener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial test proxy listener: %v", err)
	}
	defer clientConn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected handleConnection to return promptly when no default session can be established")
	}
}
