package pauxy

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/output"
)

func testConfig() Config {
	return Config{
		Nx:    2,
		Ny:    1,
		Nup:   1,
		Ndown: 1,
		T:     1,
		U:     0,

		Dt:          0.05,
		Nsteps:      20,
		Nwalkers:    5,
		Nmeasure:    5,
		NpopControl: 10,
		Nstblz:      5,
		RngSeed:     1,

		BackPropagation: true,
		Nbp:             5,

		ITCF:       true,
		ITCFNmax:   5,
		ITCFStable: true,
		ITCFMode:   "diagonal",
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "default", modify: func(cfg *Config) {}, ok: true},
		{name: "lattice", modify: func(cfg *Config) { cfg.Nx = 0 }},
		{name: "filling", modify: func(cfg *Config) { cfg.Nup = 3 }},
		{name: "timestep", modify: func(cfg *Config) { cfg.Dt = 0 }},
		{name: "counts", modify: func(cfg *Config) { cfg.Nmeasure = 0 }},
		{name: "bpdepth", modify: func(cfg *Config) { cfg.Nbp = 0 }},
		{name: "itcfnobp", modify: func(cfg *Config) { cfg.BackPropagation = false }},
		{name: "itcfalign", modify: func(cfg *Config) { cfg.ITCFNmax = 7 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			test.modify(&cfg)
			err := cfg.Validate()
			if test.ok && err != nil {
				t.Fatalf("%+v", err)
			}
			if !test.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

// readColumn returns the values of one record position across all rows of a
// dataset, ordered by record index.
func readColumn(t *testing.T, dbPath, table string, pos int) []float64 {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf(`SELECT val FROM %s WHERE pos=? ORDER BY idx`, table), pos)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer rows.Close()

	vals := make([]float64, 0)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("%+v", err)
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("%+v", err)
	}
	return vals
}

// At U=0 the projector commutes with the free electron trial state, so every
// recorded mixed and back propagated energy is the exact ground state energy.
func TestRun(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	dbPath := filepath.Join(dir, "estimates.db")

	db, err := output.Open(dbPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := New(testConfig(), comm.NewSingle(), db)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	mixed := readColumn(t, dbPath, "mixed_estimates", 1)
	if len(mixed) != 4 {
		t.Fatalf("%d, expected %d", len(mixed), 4)
	}
	for i, e := range mixed {
		if math.Abs(e-(-4)) > 1e-8 {
			t.Fatalf("%d %f, expected %f", i, e, -4.0)
		}
	}

	bp := readColumn(t, dbPath, "back_propagated_estimates", 1)
	if len(bp) != 4 {
		t.Fatalf("%d, expected %d", len(bp), 4)
	}
	for i, e := range bp {
		if math.Abs(e-(-4)) > 1e-8 {
			t.Fatalf("%d %f, expected %f", i, e, -4.0)
		}
	}

	// Two full correlation function cycles.
	itcf := readColumn(t, dbPath, "itcf", 0)
	if len(itcf) != 2 {
		t.Fatalf("%d, expected %d", len(itcf), 2)
	}
}

func TestRunLocal(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	dbPath := filepath.Join(dir, "estimates.db")

	db, err := output.Open(dbPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cs := comm.NewLocal(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for rank, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dbi *output.DB
			if c.Rank() == 0 {
				dbi = db
			}
			s, err := New(testConfig(), c, dbi)
			if err != nil {
				errs[rank] = err
				return
			}
			errs[rank] = s.Run()
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%d %+v", rank, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	mixed := readColumn(t, dbPath, "mixed_estimates", 1)
	if len(mixed) != 4 {
		t.Fatalf("%d, expected %d", len(mixed), 4)
	}
	for i, e := range mixed {
		if math.Abs(e-(-4)) > 1e-8 {
			t.Fatalf("%d %f, expected %f", i, e, -4.0)
		}
	}
}
