package comm

import (
	"github.com/pkg/errors"
)

const (
	collCap = 8
	p2pCap  = 64
)

// Local connects n workers running in one process, one goroutine per rank.
// Collectives are matched by program order, which is identical on every rank.
type Local struct {
	rank int
	hub  *hub
}

type hub struct {
	n int
	// coll[dst][src] carries collective payloads, p2p[dst][src] carries
	// serialized walker payloads. The per pair channels preserve program
	// order between any two ranks.
	coll [][]chan []float64
	p2p  [][]chan p2pMsg
}

type p2pMsg struct {
	tag int
	buf []byte
}

// NewLocal returns one communicator per rank, all attached to the same hub.
func NewLocal(n int) []*Local {
	h := &hub{n: n}
	h.coll = make([][]chan []float64, n)
	h.p2p = make([][]chan p2pMsg, n)
	for dst := 0; dst < n; dst++ {
		h.coll[dst] = make([]chan []float64, n)
		h.p2p[dst] = make([]chan p2pMsg, n)
		for src := 0; src < n; src++ {
			h.coll[dst][src] = make(chan []float64, collCap)
			h.p2p[dst][src] = make(chan p2pMsg, p2pCap)
		}
	}

	cs := make([]*Local, 0, n)
	for rank := 0; rank < n; rank++ {
		cs = append(cs, &Local{rank: rank, hub: h})
	}
	return cs
}

func (c *Local) Rank() int { return c.rank }
func (c *Local) Size() int { return c.hub.n }

func (c *Local) Gather(send, recv []float64, root int) error {
	if c.rank != root {
		c.hub.coll[root][c.rank] <- clone(send)
		return nil
	}

	if len(recv) != len(send)*c.hub.n {
		return errors.Errorf("%d %d %d", len(recv), len(send), c.hub.n)
	}
	copy(recv[root*len(send):], send)
	for src := 0; src < c.hub.n; src++ {
		if src == root {
			continue
		}
		msg := <-c.hub.coll[root][src]
		if len(msg) != len(send) {
			return errors.Errorf("%d %d %d", src, len(msg), len(send))
		}
		copy(recv[src*len(msg):], msg)
	}
	return nil
}

func (c *Local) Bcast(buf []int, root int) error {
	if c.rank == root {
		msg := make([]float64, len(buf))
		for i, v := range buf {
			msg[i] = float64(v)
		}
		for dst := 0; dst < c.hub.n; dst++ {
			if dst == root {
				continue
			}
			c.hub.coll[dst][root] <- clone(msg)
		}
		return nil
	}

	msg := <-c.hub.coll[c.rank][root]
	if len(msg) != len(buf) {
		return errors.Errorf("%d %d", len(msg), len(buf))
	}
	for i, v := range msg {
		buf[i] = int(v)
	}
	return nil
}

func (c *Local) Reduce(send, recv []float64, root int) error {
	if c.rank != root {
		c.hub.coll[root][c.rank] <- clone(send)
		return nil
	}

	if len(recv) != len(send) {
		return errors.Errorf("%d %d", len(recv), len(send))
	}
	copy(recv, send)
	for src := 0; src < c.hub.n; src++ {
		if src == root {
			continue
		}
		msg := <-c.hub.coll[root][src]
		if len(msg) != len(send) {
			return errors.Errorf("%d %d %d", src, len(msg), len(send))
		}
		for i, v := range msg {
			recv[i] += v
		}
	}
	return nil
}

func (c *Local) Send(buf []byte, dest, tag int) error {
	if dest < 0 || dest >= c.hub.n {
		return errors.Errorf("%d", dest)
	}
	b := make([]byte, len(buf))
	copy(b, buf)
	c.hub.p2p[dest][c.rank] <- p2pMsg{tag: tag, buf: b}
	return nil
}

func (c *Local) Recv(source, tag int) ([]byte, error) {
	if source < 0 || source >= c.hub.n {
		return nil, errors.Errorf("%d", source)
	}
	msg := <-c.hub.p2p[c.rank][source]
	if msg.tag != tag {
		return nil, errors.Errorf("%d, expected %d", msg.tag, tag)
	}
	return msg.buf, nil
}

// Barrier is a gather of empty messages to rank 0 followed by a release
// broadcast.
func (c *Local) Barrier() error {
	if c.rank != 0 {
		c.hub.coll[0][c.rank] <- nil
		<-c.hub.coll[c.rank][0]
		return nil
	}
	for src := 1; src < c.hub.n; src++ {
		<-c.hub.coll[0][src]
	}
	for dst := 1; dst < c.hub.n; dst++ {
		c.hub.coll[dst][0] <- nil
	}
	return nil
}

func clone(xs []float64) []float64 {
	ys := make([]float64, len(xs))
	copy(ys, xs)
	return ys
}
