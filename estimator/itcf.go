package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"

	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/hubbard"
	"github.com/sunchong137/pauxy/output"
	"github.com/sunchong137/pauxy/propagation"
	"github.com/sunchong137/pauxy/walker"
)

// Recording modes for the correlation function tensor.
const (
	ModeFull     = "full"
	ModeDiagonal = "diagonal"
	ModeElements = "elements"
)

// ITCF measures the imaginary time displaced single particle Green's
// functions G>(tau) and G<(tau) over displacements of up to nmax steps.
// Measurements fire once per cycle of nmax+nbp steps: the trailing nbp steps
// of each walker's field history back propagate the bra beyond the
// displacement window, the leading nmax steps are the window itself.
//
// The stable accumulation re anchors the displaced functions on freshly
// computed equal time Green's functions at every step, exploiting their
// projector property; the unstable one multiplies the bare propagators.
type ITCF struct {
	model    *hubbard.Model
	prop     *propagation.Propagator
	nmax     int
	npropTot int
	nstblz   int
	stable   bool
	mode     string
	elements [][2]int
	kspace   bool

	nb   int
	spgf []float64
	eye  *mat.Dense
	ds   *output.Dataset
	dsK  *output.Dataset
}

// NewITCF creates the correlation function estimator. A nil db keeps the
// accumulators in memory only.
func NewITCF(m *hubbard.Model, p *propagation.Propagator, nmax, nbp, nstblz int, stable bool, mode string, elements [][2]int, kspace bool, db *output.DB) (*ITCF, error) {
	switch mode {
	case ModeFull, ModeDiagonal:
	case ModeElements:
		if len(elements) == 0 {
			return nil, errors.Errorf("no elements")
		}
	default:
		return nil, errors.Errorf("%q", mode)
	}

	nb := m.Nbasis
	e := &ITCF{
		model:    m,
		prop:     p,
		nmax:     nmax,
		npropTot: nmax + nbp,
		nstblz:   nstblz,
		stable:   stable,
		mode:     mode,
		elements: elements,
		kspace:   kspace,
		nb:       nb,
		spgf:     make([]float64, (nmax+1)*2*2*nb*nb),
		eye:      identity(nb),
	}
	if db == nil {
		return e, nil
	}

	var err error
	switch mode {
	case ModeFull:
		e.ds, err = db.CreateDataset("itcf", nmax+1, 2, 2, nb, nb)
	case ModeDiagonal:
		e.ds, err = db.CreateDataset("itcf", nmax+1, 2, 2, nb)
	case ModeElements:
		e.ds, err = db.CreateDataset("itcf", nmax+1, 2, 2, len(elements))
	}
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if kspace {
		switch mode {
		case ModeFull:
			e.dsK, err = db.CreateDataset("itcf_kspace", nmax+1, 2, 2, nb, nb)
		case ModeDiagonal:
			e.dsK, err = db.CreateDataset("itcf_kspace", nmax+1, 2, 2, nb)
		case ModeElements:
			e.dsK, err = db.CreateDataset("itcf_kspace", nmax+1, 2, 2, len(elements))
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return e, nil
}

// NPropTot returns the measurement cycle length in propagation steps.
func (e *ITCF) NPropTot() int { return e.npropTot }

// Update accumulates the displaced Green's functions of every walker at the
// end of each measurement cycle, normalizes by the local ensemble weight, and
// re anchors the right hand reference orbitals for the next cycle.
func (e *ITCF) Update(step int, psi *walker.Walkers) {
	if step == 0 || step%e.npropTot != 0 {
		return
	}

	denom := 0.0
	for _, wi := range psi.Walkers() {
		w := wi.(*walker.SingleDet)
		wt := w.Weight()
		denom += wt

		configs, _, _ := w.Fields().Superblock()
		if len(configs) != e.nmax {
			panic(fmt.Sprintf("%d %d", len(configs), e.nmax))
		}
		if e.stable {
			e.accumulateStable(w, configs, wt)
		} else {
			e.accumulateUnstable(w, configs, wt)
		}
	}
	if denom != 0 {
		for i := range e.spgf {
			e.spgf[i] /= denom
		}
	}
	psi.CopyInit()
}

func (e *ITCF) accumulateUnstable(w *walker.SingleDet, configs [][]int, wt float64) {
	phi := [2]*mat.Dense{
		mat.DenseCopyOf(w.PhiBP[0]),
		mat.DenseCopyOf(w.PhiBP[1]),
	}
	propagation.BackPropagateSingle(e.prop, phi, configs, e.nstblz)

	var ggr, gls [2]*mat.Dense
	for s := 0; s < 2; s++ {
		gnn := Gab(phi[s], w.PhiInit[s])
		g := &mat.Dense{}
		g.Sub(e.eye, gnn)
		ggr[s] = g
		gls[s] = gnn
	}
	e.accumulate(0, ggr, gls, wt)

	for ic := 1; ic <= e.nmax; ic++ {
		b := e.prop.Matrix(configs[ic-1])
		bInv := e.prop.MatrixInverse(configs[ic-1])
		for s := 0; s < 2; s++ {
			var gr, gl mat.Dense
			gr.Mul(b[s], ggr[s])
			gl.Mul(gls[s], bInv[s])
			ggr[s] = &gr
			gls[s] = &gl
		}
		e.accumulate(ic, ggr, gls, wt)
	}
}

// accumulateStable keeps every displacement anchored on an equal time Green's
// function computed from independently stabilized left and right states. The
// recursions
//
//	G>(t) = (I - G(t,t)) B(t) G>(t-1)
//	G<(t) = G<(t-1) B(t)^-1 G(t,t)
//
// are exact because G(t,t) is an oblique projector, and stay bounded because
// the projection removes the growth directions of the bare propagators.
func (e *ITCF) accumulateStable(w *walker.SingleDet, configs [][]int, wt float64) {
	left := [2]*mat.Dense{
		mat.DenseCopyOf(w.PhiBP[0]),
		mat.DenseCopyOf(w.PhiBP[1]),
	}
	ls := propagation.BackPropagateStore(e.prop, left, configs, e.nstblz)

	right := [2]*mat.Dense{
		mat.DenseCopyOf(w.PhiInit[0]),
		mat.DenseCopyOf(w.PhiInit[1]),
	}

	var ggr, gls [2]*mat.Dense
	for s := 0; s < 2; s++ {
		gnn := Gab(ls[0][s], right[s])
		g := &mat.Dense{}
		g.Sub(e.eye, gnn)
		ggr[s] = g
		gls[s] = gnn
	}
	e.accumulate(0, ggr, gls, wt)

	for ic := 1; ic <= e.nmax; ic++ {
		b := e.prop.Matrix(configs[ic-1])
		bInv := e.prop.MatrixInverse(configs[ic-1])
		propagation.PropagateSingle(right, b)
		if ic%e.nstblz == 0 {
			walker.Reortho(right[0])
			walker.Reortho(right[1])
		}
		for s := 0; s < 2; s++ {
			gnn := Gab(ls[ic][s], right[s])

			var proj mat.Dense
			proj.Sub(e.eye, gnn)
			var gr mat.Dense
			gr.Mul(b[s], ggr[s])
			gr.Mul(&proj, mat.DenseCopyOf(&gr))
			ggr[s] = &gr

			var gl mat.Dense
			gl.Mul(gls[s], bInv[s])
			gl.Mul(mat.DenseCopyOf(&gl), gnn)
			gls[s] = &gl
		}
		e.accumulate(ic, ggr, gls, wt)
	}
}

func (e *ITCF) accumulate(ic int, ggr, gls [2]*mat.Dense, wt float64) {
	for s := 0; s < 2; s++ {
		for i := 0; i < e.nb; i++ {
			for j := 0; j < e.nb; j++ {
				e.spgf[e.index(ic, 0, s, i, j)] += wt * ggr[s].At(i, j)
				e.spgf[e.index(ic, 1, s, i, j)] += wt * gls[s].At(i, j)
			}
		}
	}
}

func (e *ITCF) index(ic, gl, s, i, j int) int {
	return (((ic*2+gl)*2+s)*e.nb+i)*e.nb + j
}

// Greater returns the accumulated G>(ic) for one spin sector, for tests.
func (e *ITCF) Greater(ic, s int) *mat.Dense {
	g := mat.NewDense(e.nb, e.nb, nil)
	for i := 0; i < e.nb; i++ {
		for j := 0; j < e.nb; j++ {
			g.Set(i, j, e.spgf[e.index(ic, 0, s, i, j)])
		}
	}
	return g
}

// Lesser returns the accumulated G<(ic) for one spin sector, for tests.
func (e *ITCF) Lesser(ic, s int) *mat.Dense {
	g := mat.NewDense(e.nb, e.nb, nil)
	for i := 0; i < e.nb; i++ {
		for j := 0; j < e.nb; j++ {
			g.Set(i, j, e.spgf[e.index(ic, 1, s, i, j)])
		}
	}
	return g
}

// Flush reduces the cycle's tensor across workers and appends the recorded
// slice on rank 0, then zeroes the accumulator everywhere.
func (e *ITCF) Flush(step int, c comm.Communicator) error {
	if step == 0 || step%e.npropTot != 0 {
		return nil
	}

	recv := make([]float64, len(e.spgf))
	if err := c.Reduce(e.spgf, recv, 0); err != nil {
		return errors.Wrap(err, "")
	}
	if c.Rank() == 0 && e.ds != nil {
		for i := range recv {
			recv[i] /= float64(c.Size())
		}
		if err := e.ds.Push(e.shape(recv)); err != nil {
			return errors.Wrap(err, "")
		}
		if e.kspace && e.dsK != nil {
			if err := e.dsK.Push(e.shape(e.momentum(recv))); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}

	for i := range e.spgf {
		e.spgf[i] = 0
	}
	return nil
}

// shape reduces the full tensor to the recorded elements per the mode.
func (e *ITCF) shape(full []float64) []float64 {
	switch e.mode {
	case ModeDiagonal:
		row := make([]float64, 0, (e.nmax+1)*2*2*e.nb)
		for ic := 0; ic <= e.nmax; ic++ {
			for gl := 0; gl < 2; gl++ {
				for s := 0; s < 2; s++ {
					for i := 0; i < e.nb; i++ {
						row = append(row, full[e.index(ic, gl, s, i, i)])
					}
				}
			}
		}
		return row
	case ModeElements:
		row := make([]float64, 0, (e.nmax+1)*2*2*len(e.elements))
		for ic := 0; ic <= e.nmax; ic++ {
			for gl := 0; gl < 2; gl++ {
				for s := 0; s < 2; s++ {
					for _, el := range e.elements {
						row = append(row, full[e.index(ic, gl, s, el[0], el[1])])
					}
				}
			}
		}
		return row
	default:
		return full
	}
}

// momentum transforms every displaced Green's function block to momentum
// space with the lattice plane wave matrix, G_k = P G P^H / M, keeping the
// real part.
func (e *ITCF) momentum(full []float64) []float64 {
	nb := e.nb
	out := make([]float64, len(full))
	for ic := 0; ic <= e.nmax; ic++ {
		for gl := 0; gl < 2; gl++ {
			for s := 0; s < 2; s++ {
				g := mat.NewCDense(nb, nb, nil)
				for i := 0; i < nb; i++ {
					for j := 0; j < nb; j++ {
						g.Set(i, j, complex(full[e.index(ic, gl, s, i, j)], 0))
					}
				}
				pg := mat.NewCDense(nb, nb, nil)
				gk := mat.NewCDense(nb, nb, nil)
				praw := e.model.P.RawCMatrix()
				cblas128.Gemm(blas.NoTrans, blas.NoTrans, 1, praw, g.RawCMatrix(), 0, pg.RawCMatrix())
				cblas128.Gemm(blas.NoTrans, blas.ConjTrans, 1, pg.RawCMatrix(), praw, 0, gk.RawCMatrix())
				for i := 0; i < nb; i++ {
					for j := 0; j < nb; j++ {
						out[e.index(ic, gl, s, i, j)] = real(gk.At(i, j)) / float64(nb)
					}
				}
			}
		}
	}
	return out
}

func identity(n int) *mat.Dense {
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return eye
}
