package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/selector"
)

// Table is the process-wide session table, keyed by client IP only: a
// client may hold exactly one active backend assignment at a time across
// every proxy port it uses.
type Table struct {
	sessions sync.Map // map[string]*Session
	counts   *selector.Counts
	timeout  time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTable creates a session table whose entries expire after timeout of
// inactivity, and starts its background reclaimer.
func NewTable(timeout time.Duration, counts *selector.Counts) *Table {
	t := &Table{
		counts:   counts,
		timeout:  timeout,
		stopChan: make(chan struct{}),
	}
	t.startReclaimer()
	return t
}

// Get returns the session currently assigned to clientIP, if any.
func (t *Table) Get(clientIP string) (*Session, bool) {
	value, ok := t.sessions.Load(clientIP)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// Touch refreshes the last-activity timestamp of clientIP's session, if it
// has one. It is a no-op otherwise: touching never creates a session.
func (t *Table) Touch(clientIP string) {
	if s, ok := t.Get(clientIP); ok {
		s.touch()
	}
}

// Upsert installs target as clientIP's session and owns every session
// count adjustment that follows from doing so: a brand new session
// increments its backend's count, and a reset that actually changes
// backend decrements the superseded backend's count and increments the
// new one. A reset that resolves to the same backend touches neither
// counter, so replaying the same control packet or query response any
// number of times leaves the count view unchanged after the first
// application — callers must never also call Counts.Increment
// themselves. If a session already exists for clientIP, its ephemeral
// sockets are closed before the new session replaces it — this is the
// session reset primitive: a fresh query response or an inbound reset
// control packet both route through here.
func (t *Table) Upsert(clientIP string, target selector.Target) *Session {
	next := newSession(clientIP, target)

	previous, existed := t.sessions.Swap(clientIP, next)
	if existed {
		old := previous.(*Session)
		old.closeSockets()
		if t.counts != nil && old.Target.BackendIP != target.BackendIP {
			t.counts.Decrement(old.Target.BackendIP)
			t.counts.Increment(target.BackendIP)
		}
		metrics.SessionResets.Inc()
	} else if t.counts != nil {
		t.counts.Increment(target.BackendIP)
	}

	log.Info().
		Str("client_ip", clientIP).
		Str("backend_ip", target.BackendIP).
		Bool("reset", existed).
		Msg("Session installed")

	return next
}

// RecordClientPort records that clientPort was seen talking to proxyPort
// on behalf of clientIP, so a backend response can be fanned out to it.
func (t *Table) RecordClientPort(clientIP string, proxyPort, clientPort int) {
	if s, ok := t.Get(clientIP); ok {
		s.recordClientPort(proxyPort, clientPort)
	}
}

// ClientPortsFor returns the client source ports seen for clientIP on
// proxyPort, used to fan a backend datagram out to every socket the
// client has used.
func (t *Table) ClientPortsFor(clientIP string, proxyPort int) []int {
	if s, ok := t.Get(clientIP); ok {
		return s.clientPortsFor(proxyPort)
	}
	return nil
}

// Resolve looks up clientIP's session once and returns its current
// target together with the backend port mapped to key, both read under
// that one session's lock. Deriving both values from a single session
// reference — rather than two separate table lookups, each of which
// re-fetches the session by IP — guarantees they can never
// straddle two different Upsert generations: a concurrent reset landing
// between two independent lookups could otherwise pair one session's
// port with a different session's backend IP.
func (t *Table) Resolve(clientIP string, key selector.PortKey) (selector.Target, int, bool) {
	s, ok := t.Get(clientIP)
	if !ok {
		return selector.Target{}, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	port, ok := s.Target.PortMap[key]
	if !ok {
		return selector.Target{}, 0, false
	}
	return s.Target, port, true
}

// ResolveAndDial looks up clientIP's session once and, under that one
// session's lock, resolves its target and the backend port mapped to
// key, then gets or creates the ephemeral socket for proxyPort — calling
// dial with the just-resolved target/port if one must be opened. Folding
// port resolution and socket creation into a single locked operation on
// one session reference closes the same race Resolve closes for TCP: a
// reset landing mid-sequence can never hand dial a target from one
// session generation while the resulting socket gets filed under
// another's socket map. dial is invoked while holding the session's
// lock, so it must not block on the table itself.
func (t *Table) ResolveAndDial(clientIP string, key selector.PortKey, proxyPort int, dial func(target selector.Target, backendPort int) (*net.UDPConn, error)) (selector.Target, *EphemeralSocket, bool, error) {
	s, ok := t.Get(clientIP)
	if !ok {
		return selector.Target{}, nil, false, errNoSession(clientIP)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backendPort, ok := s.Target.PortMap[key]
	if !ok {
		return selector.Target{}, nil, false, errNoPortMapping(clientIP)
	}
	target := s.Target

	if existing, ok := s.UDPSockets[proxyPort]; ok {
		return target, existing, false, nil
	}

	conn, err := dial(target, backendPort)
	if err != nil {
		return target, nil, false, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock := &EphemeralSocket{Conn: conn, ProxyPort: proxyPort, ctx: ctx, cancel: cancel}
	s.UDPSockets[proxyPort] = sock
	return target, sock, true, nil
}

// Target returns the full backend target clientIP's session currently
// points at.
func (t *Table) Target(clientIP string) (selector.Target, bool) {
	s, ok := t.Get(clientIP)
	if !ok {
		return selector.Target{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Target, true
}

// Count returns the number of active sessions.
func (t *Table) Count() int {
	count := 0
	t.sessions.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Remove deletes clientIP's session, closing its sockets and decrementing
// its backend's session count.
func (t *Table) Remove(clientIP string) {
	value, ok := t.sessions.LoadAndDelete(clientIP)
	if !ok {
		return
	}
	s := value.(*Session)
	s.closeSockets()
	if t.counts != nil {
		t.counts.Decrement(s.Target.BackendIP)
	}
}

// startReclaimer runs the periodic sweep that expires sessions idle for
// longer than the table's timeout.
func (t *Table) startReclaimer() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.reclaimExpired()
			case <-t.stopChan:
				return
			}
		}
	}()
}

func (t *Table) reclaimExpired() {
	var expired []string
	t.sessions.Range(func(key, value interface{}) bool {
		s := value.(*Session)
		if s.isExpired(t.timeout) {
			expired = append(expired, key.(string))
		}
		return true
	})

	for _, ip := range expired {
		t.Remove(ip)
	}

	if len(expired) > 0 {
		log.Debug().Int("count", len(expired)).Msg("Reclaimed expired sessions")
	}
}

// Shutdown stops the reclaimer and closes every session's sockets.
func (t *Table) Shutdown() {
	close(t.stopChan)
	t.wg.Wait()

	t.sessions.Range(func(key, value interface{}) bool {
		value.(*Session).closeSockets()
		return true
	})
}

type noSessionError struct{ ip string }

func (e noSessionError) Error() string { return "no session for client ip " + e.ip }

func errNoSession(ip string) error { return noSessionError{ip: ip} }

type noPortMappingError struct{ ip string }

func (e noPortMappingError) Error() string {
	return "session for client ip " + e.ip + " has no mapping for this proxy port"
}

func errNoPortMapping(ip string) error { return noPortMappingError{ip: ip} }
