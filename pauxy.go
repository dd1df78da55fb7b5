// Package pauxy drives constrained path and free projection auxiliary field
// quantum Monte Carlo calculations of the Hubbard model: walker propagation,
// population control, and the estimator schedule.
package pauxy

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/estimator"
	"github.com/sunchong137/pauxy/hubbard"
	"github.com/sunchong137/pauxy/output"
	"github.com/sunchong137/pauxy/propagation"
	"github.com/sunchong137/pauxy/walker"

	"gonum.org/v1/gonum/mat"
)

// Config is the complete input of a calculation.
type Config struct {
	// Lattice and interaction.
	Nx, Ny     int
	Nup, Ndown int
	T, U       float64
	KTwist     [2]float64

	// Propagation.
	Dt             float64
	Nsteps         int
	Nwalkers       int // per worker
	Nmeasure       int
	NpopControl    int
	Nstblz         int
	RngSeed        uint64
	FreeProjection bool

	// Back propagation.
	BackPropagation bool
	Nbp             int
	RDM             bool

	// Imaginary time correlation functions.
	ITCF         bool
	ITCFNmax     int
	ITCFStable   bool
	ITCFMode     string
	ITCFElements [][2]int
	ITCFKSpace   bool
}

// Validate checks the mutual consistency of the input before any allocation.
func (cfg *Config) Validate() error {
	if cfg.Nx < 1 || cfg.Ny < 1 {
		return errors.Errorf("%d %d", cfg.Nx, cfg.Ny)
	}
	nbasis := cfg.Nx * cfg.Ny
	if cfg.Nup < 1 || cfg.Nup > nbasis || cfg.Ndown < 0 || cfg.Ndown > nbasis {
		return errors.Errorf("%d %d %d", cfg.Nup, cfg.Ndown, nbasis)
	}
	if cfg.Dt <= 0 {
		return errors.Errorf("%f", cfg.Dt)
	}
	if cfg.Nsteps < 1 || cfg.Nwalkers < 1 || cfg.Nmeasure < 1 || cfg.NpopControl < 1 || cfg.Nstblz < 1 {
		return errors.Errorf("%d %d %d %d %d", cfg.Nsteps, cfg.Nwalkers, cfg.Nmeasure, cfg.NpopControl, cfg.Nstblz)
	}
	if cfg.BackPropagation && cfg.Nbp < 1 {
		return errors.Errorf("%d", cfg.Nbp)
	}
	if cfg.ITCF {
		if !cfg.BackPropagation {
			return errors.Errorf("itcf requires back propagation")
		}
		// The field history holds nmax+nbp steps in blocks of nbp.
		if cfg.ITCFNmax < 1 || cfg.ITCFNmax%cfg.Nbp != 0 {
			return errors.Errorf("%d %d", cfg.ITCFNmax, cfg.Nbp)
		}
	}
	return nil
}

// nprop returns the field history capacity and block size implied by the
// estimator schedule.
func (cfg *Config) nprop() (int, int) {
	switch {
	case cfg.ITCF:
		return cfg.ITCFNmax + cfg.Nbp, cfg.Nbp
	case cfg.BackPropagation:
		return cfg.Nbp, cfg.Nbp
	default:
		return 1, 1
	}
}

// State holds the live pieces of a running calculation on one worker.
type State struct {
	Config Config
	Model  *hubbard.Model
	Trial  [2]*mat.Dense
	Prop   *propagation.Propagator
	Psi    *walker.Walkers
	Rng    *rand.Rand

	mixed *estimator.Mixed
	bp    *estimator.BackPropagation
	itcf  *estimator.ITCF

	comm comm.Communicator
	db   *output.DB
}

// New builds a calculation from its input. The database may be nil on
// workers other than rank 0; estimators then keep their sums in memory only.
func New(cfg Config, c comm.Communicator, db *output.DB) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	m := hubbard.New(cfg.Nx, cfg.Ny, cfg.Nup, cfg.Ndown, cfg.T, cfg.U, cfg.KTwist)
	trial, _ := hubbard.FreeElectron(m)
	p := propagation.New(m, cfg.Dt, !cfg.FreeProjection)

	ws := make([]walker.Walker, cfg.Nwalkers)
	for i := range ws {
		ws[i] = walker.NewSingleDet(1, trial)
	}
	nprop, nbp := cfg.nprop()
	psi := walker.NewWalkers(ws, m.Nbasis, nprop, nbp)

	s := &State{
		Config: cfg,
		Model:  m,
		Trial:  trial,
		Prop:   p,
		Psi:    psi,
		Rng:    rand.New(rand.NewPCG(cfg.RngSeed, uint64(c.Rank()))),
		comm:   c,
		db:     db,
	}

	var err error
	s.mixed, err = estimator.NewMixed(m, trial, cfg.Nmeasure, cfg.RDM, db)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if cfg.BackPropagation {
		s.bp, err = estimator.NewBackPropagation(m, p, cfg.Nbp, cfg.Nstblz, cfg.RDM, db)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if cfg.ITCF {
		s.itcf, err = estimator.NewITCF(m, p, cfg.ITCFNmax, cfg.Nbp, cfg.Nstblz, cfg.ITCFStable, cfg.ITCFMode, cfg.ITCFElements, cfg.ITCFKSpace, db)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return s, nil
}

// MixedEnergy returns the running local mixed energy estimate.
func (s *State) MixedEnergy() float64 { return s.mixed.Energy() }

// Run executes the full propagation loop: each step every walker is advanced
// one imaginary time slice, walkers are reorthogonalized every Nstblz steps,
// the estimators fire on their own cadences, and the comb redistributes the
// population every NpopControl steps.
func (s *State) Run() error {
	if s.comm.Rank() == 0 && s.db != nil {
		if err := s.db.WriteMeta(uuid.New(), s.Config); err != nil {
			return errors.Wrap(err, "")
		}
	}

	cfg := &s.Config
	for step := 1; step <= cfg.Nsteps; step++ {
		for _, wi := range s.Psi.Walkers() {
			propagation.Step(s.Rng, s.Prop, wi.(*walker.SingleDet), s.Trial)
		}
		if step%cfg.Nstblz == 0 {
			s.Psi.Orthogonalise(cfg.FreeProjection)
		}

		s.mixed.Update(s.Psi)
		if s.bp != nil {
			s.bp.Update(step, s.Psi)
		}
		if s.itcf != nil {
			s.itcf.Update(step, s.Psi)
		}

		if err := s.mixed.Flush(step, s.comm); err != nil {
			return errors.Wrap(err, "")
		}
		if s.bp != nil {
			if err := s.bp.Flush(step, s.comm); err != nil {
				return errors.Wrap(err, "")
			}
		}
		if s.itcf != nil {
			if err := s.itcf.Flush(step, s.comm); err != nil {
				return errors.Wrap(err, "")
			}
		}

		if step%cfg.NpopControl == 0 {
			if err := s.Psi.Comb(s.comm, s.Rng); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}
	return nil
}
