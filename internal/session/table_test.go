package session

import (
	"net"
	"testing"
	"time"

	"github.com/nitecon/udp-director/internal/selector"
)

func TestUpsertCreatesSession(t *testing.T) {
	counts := selector.NewCounts()
	table := NewTable(time.Minute, counts)
	defer table.Shutdown()

	target := selector.Target{BackendIP: "10.0.0.1"}
	table.Upsert("203.0.113.1", target)

	got, ok := table.Get("203.0.113.1")
	if !ok {
		t.Fatal("expected a session to exist after Upsert")
	}
	if got.Target.BackendIP != "10.0.0.1" {
		t.Fatalf("expected backend 10.0.0.1, got %q", got.Target.BackendIP)
	}
	if counts.Get("10.0.0.1") != 1 {
		t.Fatalf("expected Upsert to increment the new backend's count on first install, got %d", counts.Get("10.0.0.1"))
	}
}

func TestUpsertResetReplacesTargetAndMovesCounts(t *testing.T) {
	counts := selector.NewCounts()
	table := NewTable(time.Minute, counts)
	defer table.Shutdown()

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.2"})

	target, ok := table.Target("203.0.113.1")
	if !ok || target.BackendIP != "10.0.0.2" {
		t.Fatalf("expected reset to install 10.0.0.2, got %+v (ok=%v)", target, ok)
	}
	if counts.Get("10.0.0.1") != 0 {
		t.Fatalf("expected the superseded backend's count to be decremented, got %d", counts.Get("10.0.0.1"))
	}
	if counts.Get("10.0.0.2") != 1 {
		t.Fatalf("expected the new backend's count to be incremented, got %d", counts.Get("10.0.0.2"))
	}
}

func TestUpsertReapplyingSameBackendLeavesCountsUnchanged(t *testing.T) {
	counts := selector.NewCounts()
	table := NewTable(time.Minute, counts)
	defer table.Shutdown()

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})

	if counts.Get("10.0.0.1") != 1 {
		t.Fatalf("expected reapplying a reset to the same backend to leave its count at 1, got %d", counts.Get("10.0.0.1"))
	}
}

func TestRecordAndFetchClientPorts(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	table.RecordClientPort("203.0.113.1", 7777, 55001)
	table.RecordClientPort("203.0.113.1", 7777, 55002)

	ports := table.ClientPortsFor("203.0.113.1", 7777)
	if len(ports) != 2 {
		t.Fatalf("expected 2 recorded client ports, got %d", len(ports))
	}
}

func TestResolveAndDialFailsWithNoSession(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	key := selector.PortKey{Port: 7777, Protocol: "udp"}
	_, _, _, err := table.ResolveAndDial("203.0.113.9", key, 7777, func(selector.Target, int) (*net.UDPConn, error) {
		t.Fatal("dial should not be called for a client with no session")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected an error when no session exists for the client")
	}
}

func TestResolveReturnsTargetAndPortFromOneSessionReference(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	key := selector.PortKey{Port: 7777, Protocol: "tcp"}
	table.Upsert("203.0.113.1", selector.Target{
		BackendIP: "10.0.0.1",
		PortMap:   map[selector.PortKey]int{key: 30000},
	})

	target, port, ok := table.Resolve("203.0.113.1", key)
	if !ok || port != 30000 || target.BackendIP != "10.0.0.1" {
		t.Fatalf("expected target 10.0.0.1 port 30000, got %+v port %d (ok=%v)", target, port, ok)
	}
}

func TestResolveFailsWithNoSessionOrNoMapping(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	key := selector.PortKey{Port: 7777, Protocol: "tcp"}
	if _, _, ok := table.Resolve("203.0.113.9", key); ok {
		t.Fatal("expected Resolve to fail for a client with no session")
	}

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	if _, _, ok := table.Resolve("203.0.113.1", key); ok {
		t.Fatal("expected Resolve to fail when the session's target has no mapping for this port")
	}
}

func TestResolveAndDialDialsOnlyOnceForConcurrentFirstUse(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	key := selector.PortKey{Port: 7777, Protocol: "udp"}
	table.Upsert("203.0.113.1", selector.Target{
		BackendIP: "10.0.0.1",
		PortMap:   map[selector.PortKey]int{key: 30000},
	})

	dialCount := 0
	dial := func(target selector.Target, backendPort int) (*net.UDPConn, error) {
		dialCount++
		if target.BackendIP != "10.0.0.1" || backendPort != 30000 {
			t.Fatalf("expected dial to observe the resolved target/port, got %q/%d", target.BackendIP, backendPort)
		}
		return net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	}

	_, sock1, created1, err := table.ResolveAndDial("203.0.113.1", key, 7777, dial)
	if err != nil || !created1 || sock1 == nil {
		t.Fatalf("expected the first call to dial and create a socket, got created=%v err=%v", created1, err)
	}

	_, sock2, created2, err := table.ResolveAndDial("203.0.113.1", key, 7777, dial)
	if err != nil || created2 || sock2 != sock1 {
		t.Fatalf("expected the second call to reuse the existing socket without dialing again, got created=%v err=%v", created2, err)
	}
	if dialCount != 1 {
		t.Fatalf("expected dial to be invoked exactly once, got %d", dialCount)
	}
}

func TestResolveAndDialFailsWithNoPortMapping(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})

	key := selector.PortKey{Port: 7777, Protocol: "udp"}
	_, _, _, err := table.ResolveAndDial("203.0.113.1", key, 7777, func(selector.Target, int) (*net.UDPConn, error) {
		t.Fatal("dial should not be called when the session has no mapping for this port")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected an error when the session's target has no mapping for this port")
	}
}

func TestCountReflectsActiveSessions(t *testing.T) {
	table := NewTable(time.Minute, selector.NewCounts())
	defer table.Shutdown()

	table.Upsert("203.0.113.1", selector.Target{BackendIP: "10.0.0.1"})
	table.Upsert("203.0.113.2", selector.Target{BackendIP: "10.0.0.2"})

	if table.Count() != 2 {
		t.Fatalf("expected 2 active sessions, got %d", table.Count())
	}

	table.Remove("203.0.113.1")
	if table.Count() != 1 {
		t.Fatalf("expected 1 active session after Remove, got %d", table.Count())
	}
}
