// Package autoclean flags outlying observations by iteratively comparing
// each accepted observation against its leave-one-out predictive
// distribution under a prior+noise composition. An entry is flagged when
// its standardized residual exceeds the threshold under the full
// composition, under its network-only (spatial) subset, or under its
// station-only (temporal) subset; all entries over threshold in an
// iteration are flagged simultaneously, so the result does not depend on
// traversal order.
package autoclean

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fagan2888/PyGeoNS/condition"
	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/process"
)

// Config controls the detector.
type Config struct {
	Tol     float64 // standardized-residual threshold; default 4
	MaxIter int     // iteration cap; default 50
	Logger  *zap.Logger
}

// Result is the cleaned dataset, the per-component flag masks indexed by
// (epoch, station), and how many iterations ran. Converged is false when
// the iteration cap stopped the detector with flags still accumulating.
type Result struct {
	Data       *dataset.Dataset
	Flags      map[string][][]bool
	Iterations int
	Converged  bool
}

// Clean runs the detector over every displacement component of the dataset.
// The input dataset is never mutated; flagged entries are marked missing in
// the returned working copy.
func Clean(d *dataset.Dataset, prior, noise *process.Composition, cfg Config) (*Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 4
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 50
	}

	work := d.Copy()
	res := &Result{
		Data:  work,
		Flags: map[string][][]bool{},
	}
	for name := range work.Components() {
		res.Flags[name] = newMask(work.NumEpochs(), work.NumStations())
	}

	// Subset compositions for the spatial and temporal anomaly tests.
	spatial := prior.Subset(kernel.Network).Union(noise.Subset(kernel.Network))
	temporal := prior.Subset(kernel.Station).Union(noise.Subset(kernel.Station))
	empty := process.NewEmpty()

	tests := []struct {
		name         string
		prior, noise *process.Composition
	}{
		{"combined", prior, noise},
	}
	if !spatial.Empty() {
		tests = append(tests, struct {
			name         string
			prior, noise *process.Composition
		}{"spatial", spatial, empty})
	}
	if !temporal.Empty() {
		tests = append(tests, struct {
			name         string
			prior, noise *process.Composition
		}{"temporal", temporal, empty})
	}

	for iter := 1; iter <= cfg.MaxIter; iter++ {
		res.Iterations = iter
		newFlags := 0

		var mu sync.Mutex
		var g errgroup.Group
		for name, comp := range work.Components() {
			name, comp := name, comp
			obs := work.Observations(comp)
			if len(obs.Y) == 0 {
				continue
			}
			for _, test := range tests {
				test := test
				g.Go(func() error {
					flagged, err := residualFlags(obs, test.prior, test.noise, cfg.Tol, logger)
					if err != nil {
						return fmt.Errorf("%s %s residuals: %w", name, test.name, err)
					}
					if len(flagged) == 0 {
						return nil
					}
					mu.Lock()
					defer mu.Unlock()
					for _, i := range flagged {
						e, s := obs.Index[i][0], obs.Index[i][1]
						if !res.Flags[name][e][s] {
							res.Flags[name][e][s] = true
							newFlags++
						}
					}
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		// Mutate the working copy only after every test of the iteration
		// has finished.
		for name, comp := range work.Components() {
			for e, row := range res.Flags[name] {
				for s, f := range row {
					if f {
						comp.Value.Set(e, s, math.NaN())
						comp.Sigma.Set(e, s, math.Inf(1))
					}
				}
			}
		}

		logger.Info("autoclean iteration finished",
			zap.Int("iteration", iter), zap.Int("new_flags", newFlags))
		if newFlags == 0 {
			res.Converged = true
			return res, nil
		}
	}
	logger.Warn("autoclean hit the iteration cap with flags still accumulating",
		zap.Int("iterations", cfg.MaxIter))
	return res, nil
}

// residualFlags returns the flattened indices whose leave-one-out
// standardized residual exceeds tol.
func residualFlags(obs *dataset.Observations, prior, noise *process.Composition, tol float64, logger *zap.Logger) ([]int, error) {
	sys, err := condition.Decompose(obs, prior, noise, logger)
	if err != nil {
		return nil, err
	}
	z, err := sys.LOOResiduals()
	if err != nil {
		return nil, err
	}
	var flagged []int
	for i, zi := range z {
		if math.Abs(zi) > tol {
			flagged = append(flagged, i)
		}
	}
	return flagged, nil
}

func newMask(epochs, stations int) [][]bool {
	m := make([][]bool, epochs)
	for i := range m {
		m[i] = make([]bool, stations)
	}
	return m
}
