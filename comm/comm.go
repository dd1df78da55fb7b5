// Package comm provides the collective communication layer between workers
// holding disjoint partitions of the walker ensemble.
//
// All operations are synchronous. A failed collective is fatal to the run,
// since a lost worker invalidates the global resampling invariant.
package comm

import (
	"github.com/pkg/errors"
)

// Communicator is the capability contract consumed by population control and
// the estimators.
type Communicator interface {
	// Rank returns the index of the local worker.
	Rank() int
	// Size returns the total number of workers.
	Size() int
	// Gather collects send from every rank into recv on root, ordered
	// rank major. recv is only written on root.
	Gather(send, recv []float64, root int) error
	// Bcast copies buf on root to every other rank.
	Bcast(buf []int, root int) error
	// Reduce sums send element wise over all ranks into recv on root.
	Reduce(send, recv []float64, root int) error
	// Send transmits an opaque serialized walker payload.
	Send(buf []byte, dest, tag int) error
	// Recv receives a payload sent with the same tag.
	Recv(source, tag int) ([]byte, error)
	// Barrier blocks until every rank has entered it.
	Barrier() error
}

// Single is the fallback non-parallel communicator. It behaves identically to
// the parallel path with one worker and local-only resampling.
type Single struct {
	queues map[int][][]byte
}

// NewSingle returns a communicator for a single worker run.
func NewSingle() *Single {
	return &Single{queues: make(map[int][][]byte)}
}

func (c *Single) Rank() int { return 0 }
func (c *Single) Size() int { return 1 }

func (c *Single) Gather(send, recv []float64, root int) error {
	if len(recv) != len(send) {
		return errors.Errorf("%d %d", len(recv), len(send))
	}
	copy(recv, send)
	return nil
}

func (c *Single) Bcast(buf []int, root int) error { return nil }

func (c *Single) Reduce(send, recv []float64, root int) error {
	if len(recv) != len(send) {
		return errors.Errorf("%d %d", len(recv), len(send))
	}
	copy(recv, send)
	return nil
}

// Send buffers the payload locally so that a later Recv with the same tag can
// pick it up, mirroring a self to self exchange in the parallel path.
func (c *Single) Send(buf []byte, dest, tag int) error {
	if dest != 0 {
		return errors.Errorf("%d", dest)
	}
	b := make([]byte, len(buf))
	copy(b, buf)
	c.queues[tag] = append(c.queues[tag], b)
	return nil
}

func (c *Single) Recv(source, tag int) ([]byte, error) {
	q := c.queues[tag]
	if len(q) == 0 {
		return nil, errors.Errorf("%d %d", source, tag)
	}
	c.queues[tag] = q[1:]
	return q[0], nil
}

func (c *Single) Barrier() error { return nil }
