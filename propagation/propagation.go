// Package propagation implements the imaginary time projectors of the
// discrete Hubbard Stratonovich transformation, the stochastic walker step,
// and the back propagation walks along stored auxiliary field paths.
package propagation

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/sunchong137/pauxy/hubbard"
	"github.com/sunchong137/pauxy/walker"
)

// Propagator holds the pieces of the short time projector
// B(x) = BT2 diag(auxf[x]) BT2.
type Propagator struct {
	Dt float64
	// Gamma is the discrete Hubbard Stratonovich coupling,
	// cosh(gamma) = exp(dt U / 2).
	Gamma float64
	// Auxf[x][s] is the on site factor for field x acting on spin s.
	Auxf [2][2]float64
	// BT2 is the half step kinetic projector exp(-dt T / 2).
	BT2    *mat.Dense
	BT2Inv *mat.Dense

	// ImportanceSampling selects the constrained heat bath field choice;
	// otherwise fields are drawn uniformly (free projection).
	ImportanceSampling bool
}

// New constructs the projectors for the given model and timestep.
func New(m *hubbard.Model, dt float64, importanceSampling bool) *Propagator {
	p := &Propagator{Dt: dt, ImportanceSampling: importanceSampling}
	p.Gamma = math.Acosh(math.Exp(0.5 * dt * m.U))
	eg, emg := math.Exp(p.Gamma), math.Exp(-p.Gamma)
	p.Auxf = [2][2]float64{{eg, emg}, {emg, eg}}

	var half, bt2 mat.Dense
	half.Scale(-0.5*dt, m.T)
	bt2.Exp(&half)
	p.BT2 = &bt2

	var halfInv, bt2Inv mat.Dense
	halfInv.Scale(0.5*dt, m.T)
	bt2Inv.Exp(&halfInv)
	p.BT2Inv = &bt2Inv

	return p
}

// Matrix returns the explicit short time propagator for one field
// configuration, per spin sector.
func (p *Propagator) Matrix(fields []int) [2]*mat.Dense {
	var bs [2]*mat.Dense
	for s := 0; s < 2; s++ {
		var mid mat.Dense
		mid.Apply(func(i, j int, v float64) float64 {
			return v * p.Auxf[fields[j]][s]
		}, p.BT2)
		b := &mat.Dense{}
		b.Mul(&mid, p.BT2)
		bs[s] = b
	}
	return bs
}

// MatrixInverse returns the inverse of the short time propagator.
func (p *Propagator) MatrixInverse(fields []int) [2]*mat.Dense {
	var bs [2]*mat.Dense
	for s := 0; s < 2; s++ {
		var mid mat.Dense
		mid.Apply(func(i, j int, v float64) float64 {
			return v / p.Auxf[fields[j]][s]
		}, p.BT2Inv)
		b := &mat.Dense{}
		b.Mul(&mid, p.BT2Inv)
		bs[s] = b
	}
	return bs
}

// MatrixGHF returns the spin mixed short time propagator, block diagonal in
// the spin sectors.
func (p *Propagator) MatrixGHF(fields []int) *mat.Dense {
	bs := p.Matrix(fields)
	nb, _ := bs[0].Dims()
	b := mat.NewDense(2*nb, 2*nb, nil)
	for s := 0; s < 2; s++ {
		for i := 0; i < nb; i++ {
			for j := 0; j < nb; j++ {
				b.Set(s*nb+i, s*nb+j, bs[s].At(i, j))
			}
		}
	}
	return b
}

// Step advances a walker by one imaginary time step, sampling one auxiliary
// field per site and pushing the sampled configuration into the walker's
// field history.
func Step(rng *rand.Rand, p *Propagator, w *walker.SingleDet, trial [2]*mat.Dense) {
	for s := 0; s < 2; s++ {
		mulInPlace(w.Phi[s], p.BT2)
	}

	_, nbasis := p.BT2.Dims()
	fields := make([]int, nbasis)
	switch {
	case p.ImportanceSampling:
		o := overlap(trial, w.Phi)
		for i := 0; i < nbasis; i++ {
			var r [2]float64
			for x := 0; x < 2; x++ {
				scaleRow(w.Phi, i, p.Auxf[x])
				r[x] = overlap(trial, w.Phi) / o
				scaleRow(w.Phi, i, [2]float64{1 / p.Auxf[x][0], 1 / p.Auxf[x][1]})
			}
			// The constrained path: configurations crossing the node
			// of the trial wavefunction are discarded.
			r[0], r[1] = math.Max(r[0], 0), math.Max(r[1], 0)
			total := 0.5 * (r[0] + r[1])
			if total <= 0 {
				w.SetWeight(0)
				break
			}

			x := 0
			if rng.Float64()*(r[0]+r[1]) > r[0] {
				x = 1
			}
			fields[i] = x
			scaleRow(w.Phi, i, p.Auxf[x])
			o *= r[x]
			w.SetWeight(w.Weight() * total)
		}
	default:
		for i := 0; i < nbasis; i++ {
			x := rng.IntN(2)
			fields[i] = x
			scaleRow(w.Phi, i, p.Auxf[x])
		}
	}

	for s := 0; s < 2; s++ {
		mulInPlace(w.Phi[s], p.BT2)
	}
	w.Fields().PushFull(fields, 1, 1)
}

// Apply advances a walker with a prescribed field configuration, bypassing
// sampling. Used under free projection with externally scripted paths.
func Apply(p *Propagator, w *walker.SingleDet, fields []int) {
	b := p.Matrix(fields)
	for s := 0; s < 2; s++ {
		mulInPlace(w.Phi[s], b[s])
	}
	w.Fields().PushFull(fields, 1, 1)
}

// BackPropagate reconstructs the backward projected determinants of every
// walker by applying its current field history block, in reverse
// chronological order, as transposed propagators to the historic orbitals.
// Orbitals are reorthogonalized every nstblz applications.
func BackPropagate(p *Propagator, psi *walker.Walkers, nstblz int) [][2]*mat.Dense {
	phiBPs := make([][2]*mat.Dense, 0, psi.N())
	for _, wi := range psi.Walkers() {
		w := wi.(*walker.SingleDet)
		phi := [2]*mat.Dense{
			mat.DenseCopyOf(w.PhiOld[0]),
			mat.DenseCopyOf(w.PhiOld[1]),
		}
		configs, _, _ := w.Fields().Block()
		backPropagateSingle(p, phi, configs, nstblz, nil)
		phiBPs = append(phiBPs, phi)
	}
	return phiBPs
}

// BackPropagateGHF reconstructs the backward projected determinants of every
// multi determinant walker, back propagating each expansion component through
// the walker's current field history block in the spin mixed basis.
func BackPropagateGHF(p *Propagator, psi *walker.Walkers, nstblz int) [][]*mat.Dense {
	phiBPs := make([][]*mat.Dense, 0, psi.N())
	for _, wi := range psi.Walkers() {
		w := wi.(*walker.MultiGHF)
		configs, _, _ := w.Fields().Block()

		phis := make([]*mat.Dense, len(w.PhiOld))
		for ix, old := range w.PhiOld {
			phi := mat.DenseCopyOf(old)
			for i := len(configs) - 1; i >= 0; i-- {
				mulTransposeInPlace(phi, p.MatrixGHF(configs[i]))
				if applied := len(configs) - i; applied%nstblz == 0 {
					walker.Reortho(phi)
				}
			}
			phis[ix] = phi
		}
		phiBPs = append(phiBPs, phis)
	}
	return phiBPs
}

// BackPropagateSingle back propagates phi in place through configs in
// reverse chronological order.
func BackPropagateSingle(p *Propagator, phi [2]*mat.Dense, configs [][]int, nstblz int) {
	backPropagateSingle(p, phi, configs, nstblz, nil)
}

// BackPropagateStore is BackPropagateSingle, additionally storing every
// intermediate left hand wavefunction: ls[k] is phi back propagated through
// configs[k:], so ls[0] is the fully back propagated endpoint and
// ls[len(configs)] the input. The stored states keep equal time Green's
// functions well conditioned at every displacement.
func BackPropagateStore(p *Propagator, phi [2]*mat.Dense, configs [][]int, nstblz int) [][2]*mat.Dense {
	ls := make([][2]*mat.Dense, len(configs)+1)
	backPropagateSingle(p, phi, configs, nstblz, ls)
	return ls
}

func backPropagateSingle(p *Propagator, phi [2]*mat.Dense, configs [][]int, nstblz int, ls [][2]*mat.Dense) {
	if ls != nil {
		ls[len(configs)] = [2]*mat.Dense{mat.DenseCopyOf(phi[0]), mat.DenseCopyOf(phi[1])}
	}
	for i := len(configs) - 1; i >= 0; i-- {
		b := p.Matrix(configs[i])
		for s := 0; s < 2; s++ {
			mulTransposeInPlace(phi[s], b[s])
		}
		if applied := len(configs) - i; applied%nstblz == 0 {
			walker.Reortho(phi[0])
			walker.Reortho(phi[1])
		}
		if ls != nil {
			ls[i] = [2]*mat.Dense{mat.DenseCopyOf(phi[0]), mat.DenseCopyOf(phi[1])}
		}
	}
}

// PropagateSingle applies a prebuilt propagator matrix pair forwards.
func PropagateSingle(phi [2]*mat.Dense, b [2]*mat.Dense) {
	for s := 0; s < 2; s++ {
		mulInPlace(phi[s], b[s])
	}
}

// overlap returns the product over spin sectors of det(trial^T phi).
func overlap(trial, phi [2]*mat.Dense) float64 {
	o := 1.0
	for s := 0; s < 2; s++ {
		var prod mat.Dense
		prod.Mul(trial[s].T(), phi[s])
		o *= mat.Det(&prod)
	}
	return o
}

func scaleRow(phi [2]*mat.Dense, i int, f [2]float64) {
	for s := 0; s < 2; s++ {
		_, c := phi[s].Dims()
		for j := 0; j < c; j++ {
			phi[s].Set(i, j, f[s]*phi[s].At(i, j))
		}
	}
}

func mulInPlace(phi *mat.Dense, b *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(b, phi)
	phi.Copy(&tmp)
}

func mulTransposeInPlace(phi *mat.Dense, b *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(b.T(), phi)
	phi.Copy(&tmp)
}
