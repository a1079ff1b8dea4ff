package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/selector"
)

type tcpListener struct {
	p        *Proxy
	dp       config.DataPortConfig
	listener net.Listener
}

func newTCPListener(p *Proxy, dp config.DataPortConfig) (*tcpListener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", dp.Port))
	if err != nil {
		return nil, err
	}
	log.Info().Int("port", dp.Port).Str("name", dp.Name).Msg("TCP data listener bound")
	return &tcpListener{p: p, dp: dp, listener: listener}, nil
}

func (l *tcpListener) run(ctx context.Context) {
	defer l.listener.Close()

	go func() {
		<-ctx.Done()
		_ = l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error().Err(err).Int("port", l.dp.Port).Msg("Failed to accept TCP data connection")
				continue
			}
		}
		go l.handleConnection(ctx, conn)
	}
}

func (l *tcpListener) handleConnection(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	clientAddr, ok := clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return
	}
	clientIP := clientAddr.IP.String()

	if _, ok := l.p.sessions.Get(clientIP); !ok {
		if _, err := l.p.establishDefaultSession(ctx, clientIP); err != nil {
			log.Warn().Err(err).Str("client_ip", clientIP).Msg("Failed to establish default session for TCP client")
			return
		}
	}

	key := selector.PortKey{Port: l.dp.Port, Protocol: config.ProtocolTCP}
	target, backendPort, ok := l.p.sessions.Resolve(clientIP, key)
	if !ok {
		log.Warn().Str("client_ip", clientIP).Int("port", l.dp.Port).Msg("Session target has no mapping for this proxy port")
		return
	}

	backendAddr := net.JoinHostPort(target.BackendIP, strconv.Itoa(backendPort))

	breaker := l.p.breakerFor(backendAddr)
	if !breaker.Allow() {
		log.Warn().Str("backend", backendAddr).Msg("Circuit breaker open, refusing to dial backend")
		return
	}

	backendConn, err := net.DialTimeout("tcp", backendAddr, 10*time.Second)
	if err != nil {
		breaker.RecordFailure()
		log.Error().Err(err).Str("backend", backendAddr).Msg("Failed to connect to TCP backend, session preserved")
		return
	}
	breaker.RecordSuccess()
	defer backendConn.Close()

	log.Info().Str("client_ip", clientIP).Str("backend", backendAddr).Msg("Proxying TCP data connection")

	clientToBackend := getTCPBuffer()
	backendToClient := getTCPBuffer()
	defer putTCPBuffer(clientToBackend)
	defer putTCPBuffer(backendToClient)

	done := make(chan struct{}, 2)
	go func() { _, _ = io.CopyBuffer(backendConn, clientConn, *clientToBackend); done <- struct{}{} }()
	go func() { _, _ = io.CopyBuffer(clientConn, backendConn, *backendToClient); done <- struct{}{} }()

	select {
	case <-done:
	case <-ctx.Done():
	}

	l.p.sessions.Touch(clientIP)
}
