package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/hubbard"
	"github.com/sunchong137/pauxy/output"
	"github.com/sunchong137/pauxy/propagation"
	"github.com/sunchong137/pauxy/walker"
)

// BackPropagation estimates pure expectation values by projecting the bra
// side of every walker backwards through its stored auxiliary field block.
// Measurements fire once per block of nmax steps.
type BackPropagation struct {
	model  *hubbard.Model
	prop   *propagation.Propagator
	nmax   int
	nstblz int

	weight  float64
	enumer  float64
	ekin    float64
	epot    float64
	density [2]*mat.Dense

	ds    *output.Dataset
	dsRDM *output.Dataset
}

// NewBackPropagation creates the back propagation estimator with measurement
// blocks of nmax steps. A nil db keeps the accumulators in memory only.
func NewBackPropagation(m *hubbard.Model, p *propagation.Propagator, nmax, nstblz int, rdm bool, db *output.DB) (*BackPropagation, error) {
	e := &BackPropagation{model: m, prop: p, nmax: nmax, nstblz: nstblz}
	if rdm {
		e.density[0] = mat.NewDense(m.Nbasis, m.Nbasis, nil)
		e.density[1] = mat.NewDense(m.Nbasis, m.Nbasis, nil)
	}
	if db == nil {
		return e, nil
	}

	var err error
	e.ds, err = db.CreateDataset("back_propagated_estimates", 4)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if rdm {
		e.dsRDM, err = db.CreateDataset("back_propagated_rdm", 2, m.Nbasis, m.Nbasis)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return e, nil
}

// Update back propagates the ensemble at the end of each block, accumulates
// the projected local energies, and rolls the historic orbitals forward to
// start the next window.
func (e *BackPropagation) Update(step int, psi *walker.Walkers) {
	if step == 0 || step%e.nmax != 0 {
		return
	}

	phiBPs := propagation.BackPropagate(e.prop, psi, e.nstblz)
	for i, wi := range psi.Walkers() {
		w := wi.(*walker.SingleDet)

		var g [2]*mat.Dense
		for s := 0; s < 2; s++ {
			gs := Gab(phiBPs[i][s], w.PhiOld[s])
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

		for s := 0; s < 2; s++ {
			w.PhiBP[s].Copy(phiBPs[i][s])
		}
	}
	psi.CopyHistoric()
}

// Flush reduces the block sums across workers and appends the normalized
// estimates on rank 0, then zeroes the accumulators everywhere.
func (e *BackPropagation) Flush(step int, c comm.Communicator) error {
	if step == 0 || step%e.nmax != 0 {
		return nil
	}

	send := []float64{e.weight, e.enumer, e.ekin, e.epot}
	recv := make([]float64, len(send))
	if err := c.Reduce(send, recv, 0); err != nil {
		return errors.Wrap(err, "")
	}
	if c.Rank() == 0 && e.ds != nil {
		row := []float64{
			recv[0] / float64(c.Size()),
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

// Energy returns the current local (unreduced) back propagated energy.
func (e *BackPropagation) Energy() float64 {
	return e.enumer / e.weight
}

func (e *BackPropagation) zero() {
	e.weight, e.enumer, e.ekin, e.epot = 0, 0, 0, 0
	for s := 0; s < 2; s++ {
		if e.density[s] != nil {
			e.density[s].Zero()
		}
	}
}

// BackPropagationGHF is the back propagation estimator for multi determinant
// walkers in the spin mixed basis. Each expansion component is back
// propagated independently and the component Green's functions are combined
// with the expansion coefficients and overlap determinants.
type BackPropagationGHF struct {
	model  *hubbard.Model
	prop   *propagation.Propagator
	coeffs []float64
	nmax   int
	nstblz int

	weight float64
	enumer float64
	ekin   float64
	epot   float64

	ds *output.Dataset
}

// NewBackPropagationGHF creates the spin mixed back propagation estimator.
func NewBackPropagationGHF(m *hubbard.Model, p *propagation.Propagator, coeffs []float64, nmax, nstblz int, db *output.DB) (*BackPropagationGHF, error) {
	e := &BackPropagationGHF{model: m, prop: p, coeffs: coeffs, nmax: nmax, nstblz: nstblz}
	if db == nil {
		return e, nil
	}
	var err error
	e.ds, err = db.CreateDataset("back_propagated_estimates_ghf", 4)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return e, nil
}

// Update back propagates every expansion component and accumulates the
// coefficient weighted projected energies.
func (e *BackPropagationGHF) Update(step int, psi *walker.Walkers) {
	if step == 0 || step%e.nmax != 0 {
		return
	}

	phiBPs := propagation.BackPropagateGHF(e.prop, psi, e.nstblz)
	for i, wi := range psi.Walkers() {
		w := wi.(*walker.MultiGHF)

		weights := make([]float64, len(w.Phi))
		denom := 0.0
		for ix := range w.Phi {
			var o mat.Dense
			o.Mul(phiBPs[i][ix].T(), w.PhiOld[ix])
			det := mat.Det(&o)

			g := Gab(phiBPs[i][ix], w.PhiOld[ix])
			t := &mat.Dense{}
			t.CloneFrom(g.T())
			w.Gi[ix] = t
			w.Ots[ix] = det

			weights[ix] = e.coeffs[ix] * w.Weights[ix] * det
			denom += weights[ix]
		}
		etot, ke, pe := LocalEnergyGHF(e.model, w.Gi, weights, denom)

		wt := w.Weight()
		e.weight += wt
		e.enumer += wt * etot
		e.ekin += wt * ke
		e.epot += wt * pe

		for ix := range w.Phi {
			w.PhiBP[ix].Copy(phiBPs[i][ix])
		}
	}
	psi.CopyHistoric()
}

// Energy returns the current local (unreduced) back propagated energy.
func (e *BackPropagationGHF) Energy() float64 {
	return e.enumer / e.weight
}

// Flush reduces and records the block sums, mirroring BackPropagation.
func (e *BackPropagationGHF) Flush(step int, c comm.Communicator) error {
	if step == 0 || step%e.nmax != 0 {
		return nil
	}

	send := []float64{e.weight, e.enumer, e.ekin, e.epot}
	recv := make([]float64, len(send))
	if err := c.Reduce(send, recv, 0); err != nil {
		return errors.Wrap(err, "")
	}
	if c.Rank() == 0 && e.ds != nil {
		row := []float64{
			recv[0] / float64(c.Size()),
			recv[1] / recv[0],
			recv[2] / recv[0],
			recv[3] / recv[0],
		}
		if err := e.ds.Push(row); err != nil {
			return errors.Wrap(err, "")
		}
	}
	e.weight, e.enumer, e.ekin, e.epot = 0, 0, 0, 0
	return nil
}
