package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/hubbard"
	"github.com/sunchong137/pauxy/output"
	"github.com/sunchong137/pauxy/walker"
)

// Mixed accumulates the mixed estimate of the projected energy: each step,
// every walker's local energy against the trial wavefunction enters a weighted
// running sum, flushed every nmeasure steps.
type Mixed struct {
	model    *hubbard.Model
	trial    [2]*mat.Dense
	nmeasure int

	weight float64
	enumer float64
	ekin   float64
	epot   float64
	// density accumulates the mixed one particle density matrix per spin
	// sector when enabled.
	density [2]*mat.Dense

	ds    *output.Dataset
	dsRDM *output.Dataset
}

// NewMixed creates the mixed estimator and its output datasets. A nil db
// keeps the accumulators in memory only, for tests.
func NewMixed(m *hubbard.Model, trial [2]*mat.Dense, nmeasure int, rdm bool, db *output.DB) (*Mixed, error) {
	e := &Mixed{model: m, trial: trial, nmeasure: nmeasure}
	if rdm {
		e.density[0] = mat.NewDense(m.Nbasis, m.Nbasis, nil)
		e.density[1] = mat.NewDense(m.Nbasis, m.Nbasis, nil)
	}
	if db == nil {
		return e, nil
	}

	var err error
	e.ds, err = db.CreateDataset("mixed_estimates", 4)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if rdm {
		e.dsRDM, err = db.CreateDataset("mixed_rdm", 2, m.Nbasis, m.Nbasis)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return e, nil
}

// Update folds the current ensemble into the running sums.
func (e *Mixed) Update(psi *walker.Walkers) {
	for _, wi := range psi.Walkers() {
		w := wi.(*walker.SingleDet)
		if !w.Alive() {
			continue
		}

		var g [2]*mat.Dense
		for s := 0; s < 2; s++ {
			gs := Gab(e.trial[s], w.Phi[s])
			t := &mat.Dense{}
			t.CloneFrom(gs.T())
			g[s] = t
		}
		etot, ke, pe := LocalEnergy(e.model, g)

		wt := w.Weight()
		e.weight += wt
		e.enumer += wt * etot
		e.ekin += wt * ke
		e.epot += wt * pe
		if e.density[0] != nil {
			for s := 0; s < 2; s++ {
				var scaled mat.Dense
				scaled.Scale(wt, g[s])
				e.density[s].Add(e.density[s], &scaled)
			}
		}
	}
}

// Energy returns the current local (unreduced) mixed energy estimate.
func (e *Mixed) Energy() float64 {
	return e.enumer / e.weight
}

// Flush reduces the sums across workers every nmeasure steps and appends the
// normalized estimates on rank 0, then zeroes the accumulators everywhere.
func (e *Mixed) Flush(step int, c comm.Communicator) error {
	if step == 0 || step%e.nmeasure != 0 {
		return nil
	}

	send := []float64{e.weight, e.enumer, e.ekin, e.epot}
	recv := make([]float64, len(send))
	if err := c.Reduce(send, recv, 0); err != nil {
		return errors.Wrap(err, "")
	}
	if c.Rank() == 0 && e.ds != nil {
		row := []float64{
			recv[0] / float64(e.nmeasure),
			recv[1] / recv[0],
			recv[2] / recv[0],
			recv[3] / recv[0],
		}
		if err := e.ds.Push(row); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if e.density[0] != nil {
		nb := e.model.Nbasis
		sendG := make([]float64, 2*nb*nb)
		for s := 0; s < 2; s++ {
			for i := 0; i < nb; i++ {
				for j := 0; j < nb; j++ {
					sendG[(s*nb+i)*nb+j] = e.density[s].At(i, j)
				}
			}
		}
		recvG := make([]float64, len(sendG))
		if err := c.Reduce(sendG, recvG, 0); err != nil {
			return errors.Wrap(err, "")
		}
		if c.Rank() == 0 && e.dsRDM != nil {
			for i := range recvG {
				recvG[i] /= recv[0]
			}
			if err := e.dsRDM.Push(recvG); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}

	e.zero()
	return nil
}

func (e *Mixed) zero() {
	e.weight, e.enumer, e.ekin, e.epot = 0, 0, 0, 0
	for s := 0; s < 2; s++ {
		if e.density[s] != nil {
			e.density[s].Zero()
		}
	}
}
