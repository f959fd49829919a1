package scheduler

import (
	"net"
	"sync"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// correlator matches inbound responses back to their in-flight probe by
// the scanner-chosen ephemeral source port plus the target address (spec
// §4.5 "response correlator", glossary). One correlator is shared by every
// worker goroutine in a Dispatcher; a sharded map would reduce contention
// further, but a single mutex-guarded map is plenty below ~100K probes/sec
// per spec's own budget note in §5 ("lock-free or finely locked").
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan *scanning.Response
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]chan *scanning.Response)}
}

func corrKey(target net.IP, srcPort uint16) string {
	b := make([]byte, 0, len(target)+2)
	b = append(b, target...)
	b = append(b, byte(srcPort>>8), byte(srcPort))
	return string(b)
}

// register opens a one-slot wait channel for key, to be read by the probe
// awaiting its response.
func (c *correlator) register(key string) chan *scanning.Response {
	ch := make(chan *scanning.Response, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	return ch
}

// deliver routes a parsed response to its waiting probe, if still pending.
// Returns false if no probe was waiting on key (late, duplicate, or
// unsolicited traffic), in which case the caller should discard it.
func (c *correlator) deliver(key string, resp *scanning.Response) bool {
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

// cancel discards a pending registration that timed out or whose probe was
// canceled, so a late-arriving response after that point is dropped
// instead of leaking the channel.
func (c *correlator) cancel(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}
