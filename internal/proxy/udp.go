package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/selector"
	"github.com/nitecon/udp-director/internal/session"
)

type udpListener struct {
	p    *Proxy
	dp   config.DataPortConfig
	conn *net.UDPConn
}

func newUDPListener(p *Proxy, dp config.DataPortConfig) (*udpListener, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", dp.Port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	log.Info().Int("port", dp.Port).Str("name", dp.Name).Msg("UDP data listener bound")
	return &udpListener{p: p, dp: dp, conn: conn}, nil
}

// run reads datagrams until ctx is cancelled. It never exits on a read
// error: the error is logged and the loop goes on, so only cancelling the
// context stops it.
func (l *udpListener) run(ctx context.Context) {
	defer l.conn.Close()

	bufPtr := getUDPBuffer()
	defer putUDPBuffer(bufPtr)
	buffer := *bufPtr

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, clientAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				log.Error().Err(err).Int("port", l.dp.Port).Msg("Failed to read UDP packet")
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buffer[:n])
		l.handlePacket(ctx, clientAddr, payload)
	}
}

func (l *udpListener) handlePacket(ctx context.Context, clientAddr *net.UDPAddr, payload []byte) {
	clientIP := clientAddr.IP.String()

	if magic := l.p.controlPacketMagic(); len(magic) > 0 && bytes.HasPrefix(payload, magic) {
		l.handleControlPacket(clientIP, payload[len(magic):])
		return
	}

	if _, ok := l.p.sessions.Get(clientIP); !ok {
		if _, err := l.p.establishDefaultSession(ctx, clientIP); err != nil {
			log.Warn().Err(err).Str("client_ip", clientIP).Msg("Failed to establish default session for UDP client")
			return
		}
	}

	key := selector.PortKey{Port: l.dp.Port, Protocol: config.ProtocolUDP}
	_, sock, created, err := l.p.sessions.ResolveAndDial(clientIP, key, l.dp.Port, func(target selector.Target, backendPort int) (*net.UDPConn, error) {
		backendAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(target.BackendIP, strconv.Itoa(backendPort)))
		if err != nil {
			return nil, err
		}
		return net.DialUDP("udp", nil, backendAddr)
	})
	if err != nil {
		log.Warn().Err(err).Str("client_ip", clientIP).Int("port", l.dp.Port).Msg("Failed to resolve backend socket for UDP client")
		return
	}

	l.p.sessions.RecordClientPort(clientIP, l.dp.Port, clientAddr.Port)

	if _, err := sock.Conn.Write(payload); err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("Failed to forward UDP packet to backend")
		return
	}
	metrics.PacketsForwarded.WithLabelValues("toBackend").Inc()
	l.p.sessions.Touch(clientIP)

	if created {
		go l.runEphemeralReceiveLoop(ctx, clientIP, sock)
	}
}

func (l *udpListener) handleControlPacket(clientIP string, tokenBytes []byte) {
	token := string(tokenBytes)
	target, ok := l.p.tokens.Lookup(token)
	if !ok {
		log.Warn().Str("client_ip", clientIP).Msg("Control packet carried an invalid or expired token")
		return
	}

	l.p.sessions.Upsert(clientIP, target)
}

// runEphemeralReceiveLoop forwards backend responses back to every client
// source port recorded for (clientIP, proxyPort). It looks the fan-out
// set up fresh on each iteration rather than holding a reference to the
// session that created it, so a reset that replaces the session is
// reflected immediately and a superseded socket's sends simply stop
// mattering once its context is cancelled.
func (l *udpListener) runEphemeralReceiveLoop(ctx context.Context, clientIP string, sock *session.EphemeralSocket) {
	bufPtr := getUDPBuffer()
	defer putUDPBuffer(bufPtr)
	buffer := *bufPtr

	for {
		select {
		case <-ctx.Done():
			return
		case <-sock.Context().Done():
			return
		default:
		}

		sock.Conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := sock.Conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-sock.Context().Done():
				return
			default:
				log.Debug().Err(err).Str("client_ip", clientIP).Msg("Ephemeral socket read ended")
				return
			}
		}

		payload := make([]byte, n)
		copy(payload, buffer[:n])

		clientPorts := l.p.sessions.ClientPortsFor(clientIP, sock.ProxyPort)
		for _, port := range clientPorts {
			dst := &net.UDPAddr{IP: net.ParseIP(clientIP), Port: port}
			if _, err := l.conn.WriteToUDP(payload, dst); err != nil {
				log.Error().Err(err).Str("client_ip", clientIP).Int("client_port", port).Msg("Failed to forward backend response to client")
				continue
			}
			metrics.PacketsForwarded.WithLabelValues("toClient").Inc()
		}
	}
}
