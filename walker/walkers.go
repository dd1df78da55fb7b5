package walker

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy/comm"
)

// Walkers is the container for the local partition of the walker ensemble.
// Aggregate quantities are recomputed on demand, never cached across a
// population control pass.
type Walkers struct {
	walkers []Walker
}

// NewWalkers wraps ws and attaches a field configuration buffer to each
// walker, holding nprop steps of nfields fields with back propagation blocks
// of nbp steps.
func NewWalkers(ws []Walker, nfields, nprop, nbp int) *Walkers {
	psi := &Walkers{walkers: ws}
	for _, w := range ws {
		switch w := w.(type) {
		case *SingleDet:
			w.fields = NewFieldConfig(nfields, nprop, nbp)
		case *MultiGHF:
			w.fields = NewFieldConfig(nfields, nprop, nbp)
		default:
			panic(fmt.Sprintf("%T", w))
		}
	}
	return psi
}

// Walkers returns the local walkers.
func (psi *Walkers) Walkers() []Walker { return psi.walkers }

// N returns the fixed size of the local partition.
func (psi *Walkers) N() int { return len(psi.walkers) }

// TotalWeight returns the summed weight of the alive local walkers.
func (psi *Walkers) TotalWeight() float64 {
	var total float64
	for _, w := range psi.walkers {
		if w.Alive() {
			total += w.Weight()
		}
	}
	return total
}

// NW returns the number of alive local walkers.
func (psi *Walkers) NW() int {
	n := 0
	for _, w := range psi.walkers {
		if w.Alive() {
			n++
		}
	}
	return n
}

// Orthogonalise reorthogonalizes every walker's orbitals. Under free
// projection the triangular factor determinant is folded into the weight.
func (psi *Walkers) Orthogonalise(freeProjection bool) {
	for _, w := range psi.walkers {
		detR := w.Reortho()
		if freeProjection {
			w.SetWeight(detR * w.Weight())
		}
	}
}

// CopyHistoric snapshots every walker's current orbitals for the next back
// propagation window.
func (psi *Walkers) CopyHistoric() {
	for _, w := range psi.walkers {
		w.CopyHistoric()
	}
}

// CopyInit snapshots every walker's current orbitals as the right hand
// reference for the next correlation function cycle.
func (psi *Walkers) CopyInit() {
	for _, w := range psi.walkers {
		w.CopyInit()
	}
}

// CombCounts builds the replication counts of the comb method for one global
// weight vector: ntarget evenly spaced teeth offset by the shared random
// draw r assign each walker a number of surviving copies proportional to its
// weight.
//
// See Booth and Gubernatis, PRE 80, 046704 (2009).
func CombCounts(weights []float64, ntarget int, r float64) ([]int, error) {
	total := 0.0
	cum := make([]float64, len(weights))
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	if total <= 0 {
		return nil, errors.Errorf("total weight %f", total)
	}

	counts := make([]int, len(weights))
	iw := 0
	for ic := 0; ic < ntarget; ic++ {
		tooth := (float64(ic) + r) * total / float64(ntarget)
		for iw < len(cum)-1 && tooth >= cum[iw] {
			iw++
		}
		counts[iw]++
	}
	return counts, nil
}

// Comb applies the comb method of population control. Weights are gathered
// worker major to rank 0, which draws the single shared random offset and
// broadcasts the replication counts; surplus walkers are then sent as
// serialized payloads to the workers holding deficits, matched positionally
// by flattened global index. After the closing barrier every weight is 1.
func (psi *Walkers) Comb(c comm.Communicator, rng *rand.Rand) error {
	nw := len(psi.walkers)
	weights := make([]float64, nw)
	for i, w := range psi.walkers {
		weights[i] = math.Abs(w.Weight())
	}

	global := make([]float64, nw*c.Size())
	if err := c.Gather(weights, global, 0); err != nil {
		return errors.Wrap(err, "")
	}

	counts := make([]int, nw*c.Size())
	if c.Rank() == 0 {
		cs, err := CombCounts(global, nw*c.Size(), rng.Float64())
		if err != nil {
			return errors.Wrap(err, "")
		}
		copy(counts, cs)
	}
	if err := c.Bcast(counts, 0); err != nil {
		return errors.Wrap(err, "")
	}

	// A walker with zero survivors is replaced by a copy of one with a
	// surplus; the matching is positional, not locality aware.
	type slot struct{ proc, idx int }
	send := make([]slot, 0)
	recv := make([]slot, 0)
	for i, n := range counts {
		if n == 0 {
			recv = append(recv, slot{proc: i / nw, idx: i % nw})
		}
		for k := 0; k < n-1; k++ {
			send = append(send, slot{proc: i / nw, idx: i % nw})
		}
	}
	if len(send) != len(recv) {
		return errors.Errorf("%d %d", len(send), len(recv))
	}

	for i := range send {
		if c.Rank() != send[i].proc {
			continue
		}
		buf, err := psi.walkers[send[i].idx].Buffer()
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := c.Send(buf, recv[i].proc, i); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for i := range send {
		if c.Rank() != recv[i].proc {
			continue
		}
		buf, err := c.Recv(send[i].proc, i)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := psi.walkers[recv[i].idx].SetBuffer(buf); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := c.Barrier(); err != nil {
		return errors.Wrap(err, "")
	}

	for _, w := range psi.walkers {
		w.SetWeight(1)
	}
	return nil
}
