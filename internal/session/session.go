// Package session implements the per-client-IP session table: the active
// backend mapping for each game client, its ephemeral UDP sockets, and the
// reclaimer that expires sessions after a period of inactivity.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nitecon/udp-director/internal/selector"
)

// EphemeralSocket is a UDP socket dialed from the director to one backend
// address on behalf of one client, for one proxy port. Its receive loop
// must look the owning Session back up by (clientIP, proxyPort) on every
// iteration rather than closing over a *Session directly: a session reset
// swaps in a fresh Session for the same IP and cancels the old socket's
// context, so a stale direct reference would keep writing to a backend the
// client has already been moved off of.
type EphemeralSocket struct {
	Conn      *net.UDPConn
	ProxyPort int
	ctx       context.Context
	cancel    context.CancelFunc
}

// Context returns the socket's cancellation context; its receive loop
// should select on Done() alongside its read deadline.
func (s *EphemeralSocket) Context() context.Context {
	return s.ctx
}

// Close cancels the socket's context and closes its connection. Safe to
// call more than once.
func (s *EphemeralSocket) Close() {
	s.cancel()
	_ = s.Conn.Close()
}

// Session is one client IP's complete routing state: the backend it was
// assigned, the proxy-port-to-backend-port mapping, every ephemeral socket
// opened on its behalf, and the set of client source ports seen per proxy
// port (a client may reuse several source ports against one proxy port).
type Session struct {
	mu sync.Mutex

	ClientIP       string
	Target         selector.Target
	LastActivity   time.Time
	UDPSockets     map[int]*EphemeralSocket   // keyed by proxyPort
	ClientPorts    map[int]map[int]struct{}   // proxyPort -> set of client source ports
}

func newSession(clientIP string, target selector.Target) *Session {
	return &Session{
		ClientIP:     clientIP,
		Target:       target,
		LastActivity: time.Now(),
		UDPSockets:   make(map[int]*EphemeralSocket),
		ClientPorts:  make(map[int]map[int]struct{}),
	}
}

// touch updates the session's last-activity timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// isExpired reports whether the session has been idle longer than timeout.
func (s *Session) isExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivity) > timeout
}

// backendPort returns the backend port the session's target maps key to.
func (s *Session) backendPort(key selector.PortKey) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	port, ok := s.Target.PortMap[key]
	return port, ok
}

// recordClientPort adds clientPort to the fan-out set tracked for proxyPort.
func (s *Session) recordClientPort(proxyPort, clientPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.ClientPorts[proxyPort]
	if !ok {
		set = make(map[int]struct{})
		s.ClientPorts[proxyPort] = set
	}
	set[clientPort] = struct{}{}
}

// clientPortsFor returns a snapshot of the client source ports seen for
// proxyPort, used when fanning a backend response out to every client
// socket that has talked to that proxy port.
func (s *Session) clientPortsFor(proxyPort int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.ClientPorts[proxyPort]
	if !ok {
		return nil
	}
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	return ports
}

// closeSockets cancels and closes every ephemeral socket owned by the
// session. Called when the session is reset to a new target or reclaimed
// for inactivity.
func (s *Session) closeSockets() {
	s.mu.Lock()
	sockets := make([]*EphemeralSocket, 0, len(s.UDPSockets))
	for _, sock := range s.UDPSockets {
		sockets = append(sockets, sock)
	}
	s.UDPSockets = make(map[int]*EphemeralSocket)
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.Close()
	}
}
