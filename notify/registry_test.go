package notify

import (
	"sync"
	"testing"

	"orderflow/auth"
)

func newTestConn() *Conn {
	return &Conn{send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func TestRegistry_RegisterAndRoute(t *testing.T) {
	reg := NewRegistry()
	c1 := newTestConn()
	c2 := newTestConn()

	reg.Register(c1, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer})
	reg.Register(c2, auth.Identity{UserID: "agent-1", Role: auth.RoleFastDeliveryAgent})

	if got := len(reg.UserConns("buyer-1")); got != 1 {
		t.Errorf("buyer conns = %d", got)
	}
	if got := reg.Size(); got != 2 {
		t.Errorf("size = %d", got)
	}

	reg.JoinRoom(c1, orderRoom("order-1"))
	reg.JoinRoom(c2, orderRoom("order-1"))
	if got := len(reg.RoomConns(orderRoom("order-1"))); got != 2 {
		t.Errorf("room conns = %d", got)
	}
}

func TestRegistry_RebindReplacesPreviousIdentity(t *testing.T) {
	reg := NewRegistry()
	c := newTestConn()

	reg.Register(c, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer})
	reg.Register(c, auth.Identity{UserID: "buyer-2", Role: auth.RoleBuyer})

	if got := len(reg.UserConns("buyer-1")); got != 0 {
		t.Errorf("old identity still routed, conns = %d", got)
	}
	if got := len(reg.UserConns("buyer-2")); got != 1 {
		t.Errorf("new identity conns = %d", got)
	}
	if got := reg.Size(); got != 1 {
		t.Errorf("size = %d", got)
	}

	reg.Unregister(c)
	if got := len(reg.UserConns("buyer-2")); got != 0 {
		t.Errorf("conns after unregister = %d", got)
	}
	if got := reg.Size(); got != 0 {
		t.Errorf("size after unregister = %d", got)
	}
}

func TestRegistry_UnregisterTearsDownEverything(t *testing.T) {
	reg := NewRegistry()
	c := newTestConn()
	reg.Register(c, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer})
	reg.JoinRoom(c, orderRoom("order-1"))

	reg.Unregister(c)

	if got := len(reg.UserConns("buyer-1")); got != 0 {
		t.Errorf("buyer conns = %d", got)
	}
	if got := len(reg.RoomConns(orderRoom("order-1"))); got != 0 {
		t.Errorf("room conns = %d", got)
	}
	if got := reg.Size(); got != 0 {
		t.Errorf("size = %d", got)
	}
}

func TestRegistry_JoinRequiresRegistration(t *testing.T) {
	reg := NewRegistry()
	c := newTestConn()

	reg.JoinRoom(c, orderRoom("order-1"))

	if got := len(reg.RoomConns(orderRoom("order-1"))); got != 0 {
		t.Errorf("unregistered conn joined a room: %d members", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestConn()
			reg.Register(c, auth.Identity{UserID: "user-1", Role: auth.RoleBuyer})
			reg.JoinRoom(c, orderRoom("order-1"))
			reg.RoomConns(orderRoom("order-1"))
			reg.Unregister(c)
		}()
	}
	wg.Wait()

	if got := reg.Size(); got != 0 {
		t.Errorf("size after churn = %d", got)
	}
}

func TestConnPush_DropsWhenFull(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), done: make(chan struct{})}

	c.push([]byte("a"))
	c.push([]byte("b"))

	if got := len(c.send); got != 1 {
		t.Errorf("buffered = %d", got)
	}
}
