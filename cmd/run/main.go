package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/sunchong137/pauxy"
	"github.com/sunchong137/pauxy/comm"
	"github.com/sunchong137/pauxy/output"
)

var (
	configPath = flag.String("c", "", "JSON input file, default inputs if empty")
	dbPath     = flag.String("o", filepath.Join("runs", "pauxy", "estimates.db"), "output database")
	nworkers   = flag.Int("p", 1, "number of workers")
)

func defaultConfig() pauxy.Config {
	return pauxy.Config{
		Nx:    4,
		Ny:    1,
		Nup:   2,
		Ndown: 2,
		T:     1,
		U:     4,

		Dt:          0.01,
		Nsteps:      2000,
		Nwalkers:    100,
		Nmeasure:    10,
		NpopControl: 10,
		Nstblz:      5,
		RngSeed:     7,

		BackPropagation: true,
		Nbp:             10,
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg := defaultConfig()
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	db, err := output.Open(*dbPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer db.Close()

	if *nworkers == 1 {
		s, err := pauxy.New(cfg, comm.NewSingle(), db)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := s.Run(); err != nil {
			return errors.Wrap(err, "")
		}
		log.Printf("%s", *dbPath)
		return nil
	}

	cs := comm.NewLocal(*nworkers)
	var wg sync.WaitGroup
	errs := make([]error, *nworkers)
	for i, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Only rank 0 writes estimates.
			var dbi *output.DB
			if c.Rank() == 0 {
				dbi = db
			}
			s, err := pauxy.New(cfg, c, dbi)
			if err != nil {
				errs[i] = errors.Wrap(err, "")
				return
			}
			errs[i] = s.Run()
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return errors.Wrap(err, "")
		}
	}
	log.Printf("%s", *dbPath)
	return nil
}
