package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fagan2888/PyGeoNS/autoclean"
	"github.com/fagan2888/PyGeoNS/condition"
	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/parser"
	"github.com/fagan2888/PyGeoNS/reml"
)

// remlCmd fits the model hyperparameters to each displacement component by
// restricted maximum likelihood and prints the estimates with their
// asymptotic standard errors.
func (a *app) remlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reml",
		Short: "Fit model hyperparameters by restricted maximum likelihood",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			prior, noise, err := cfg.compositions()
			if err != nil {
				return err
			}
			d, err := a.loadDataset()
			if err != nil {
				return err
			}

			fitCfg, err := cfg.remlConfig(prior.NumParams(), noise.NumParams())
			if err != nil {
				return err
			}
			fitCfg.Logger = a.logger

			for _, name := range componentOrder {
				obs := d.Observations(d.Components()[name])
				if len(obs.Y) == 0 {
					a.logger.Warn("component has no observations, skipping",
						zap.String("component", name))
					continue
				}
				res, err := reml.Fit(obs, prior, noise, fitCfg)
				if err != nil {
					return fmt.Errorf("fitting %s: %w", name, err)
				}
				printFit(name, cfg, res)
			}
			return nil
		},
	}
}

var componentOrder = []string{"east", "north", "vertical"}

// remlConfig assembles the fit configuration from the per-composition
// fixed-parameter flags and bounds in the model file.
func (cfg *modelConfig) remlConfig(np, nn int) (reml.Config, error) {
	out := reml.Config{}
	if cfg.Prior.Fixed != nil || cfg.Noise.Fixed != nil {
		free, err := freeFlags(cfg.Prior.Fixed, cfg.Noise.Fixed, np, nn)
		if err != nil {
			return out, err
		}
		out.Free = free
	}
	if cfg.Prior.Lower != nil || cfg.Noise.Lower != nil {
		b, err := boundVector(cfg.Prior.Lower, cfg.Noise.Lower, np, nn, math.Inf(-1))
		if err != nil {
			return out, err
		}
		out.Lower = b
	}
	if cfg.Prior.Upper != nil || cfg.Noise.Upper != nil {
		b, err := boundVector(cfg.Prior.Upper, cfg.Noise.Upper, np, nn, math.Inf(1))
		if err != nil {
			return out, err
		}
		out.Upper = b
	}
	return out, nil
}

func freeFlags(priorFixed, noiseFixed []bool, np, nn int) ([]bool, error) {
	if priorFixed != nil && len(priorFixed) != np {
		return nil, fmt.Errorf("%w: %d fixed flags for %d prior hyperparameters",
			dataset.ErrDimensionMismatch, len(priorFixed), np)
	}
	if noiseFixed != nil && len(noiseFixed) != nn {
		return nil, fmt.Errorf("%w: %d fixed flags for %d noise hyperparameters",
			dataset.ErrDimensionMismatch, len(noiseFixed), nn)
	}
	free := make([]bool, np+nn)
	for i := range free {
		free[i] = true
	}
	for i, f := range priorFixed {
		free[i] = !f
	}
	for i, f := range noiseFixed {
		free[np+i] = !f
	}
	return free, nil
}

func boundVector(priorVals, noiseVals []float64, np, nn int, def float64) ([]float64, error) {
	if priorVals != nil && len(priorVals) != np {
		return nil, fmt.Errorf("%w: %d bounds for %d prior hyperparameters",
			dataset.ErrDimensionMismatch, len(priorVals), np)
	}
	if noiseVals != nil && len(noiseVals) != nn {
		return nil, fmt.Errorf("%w: %d bounds for %d noise hyperparameters",
			dataset.ErrDimensionMismatch, len(noiseVals), nn)
	}
	out := make([]float64, np+nn)
	for i := range out {
		out[i] = def
	}
	copy(out, priorVals)
	copy(out[np:], noiseVals)
	return out, nil
}

// printFit renders one component's fitted hyperparameters grouped by model,
// one line per hyperparameter with its standard error.
func printFit(component string, cfg *modelConfig, res reml.Result) {
	status := "converged"
	if !res.Converged {
		status = "not converged"
	}
	fmt.Printf("%s: restricted NLL %.6g (%s, %d evaluations)\n",
		component, res.NLL, status, res.Evaluations)
	np := len(res.PriorParams)
	all := append(append([]float64(nil), res.PriorParams...), res.NoiseParams...)
	off := 0
	printGroup := func(label string, models []string) {
		for _, model := range models {
			arity, err := kernel.Arity(model)
			if err != nil || arity == 0 {
				continue
			}
			for i := 0; i < arity; i++ {
				se := res.StdErrs[off]
				if math.IsNaN(se) {
					fmt.Printf("  %s %s[%d] = %.6g (fixed)\n", label, model, i, all[off])
				} else {
					fmt.Printf("  %s %s[%d] = %.6g +/- %.3g\n", label, model, i, all[off], se)
				}
				off++
			}
		}
	}
	printGroup("prior", cfg.Prior.Models)
	off = np
	printGroup("noise", cfg.Noise.Models)
}

// autocleanCmd runs the leave-one-out outlier detector and writes the
// cleaned station files, with flagged entries marked missing.
func (a *app) autocleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoclean",
		Short: "Flag outlying observations and write cleaned station files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			prior, noise, err := cfg.compositions()
			if err != nil {
				return err
			}
			d, err := a.loadDataset()
			if err != nil {
				return err
			}

			res, err := autoclean.Clean(d, prior, noise, autoclean.Config{
				Tol:     cfg.Threshold,
				MaxIter: cfg.MaxIterations,
				Logger:  a.logger,
			})
			if err != nil {
				return err
			}
			total := 0
			for _, mask := range res.Flags {
				for _, row := range mask {
					for _, f := range row {
						if f {
							total++
						}
					}
				}
			}
			a.logger.Info("autoclean finished",
				zap.Int("flagged", total),
				zap.Int("iterations", res.Iterations),
				zap.Bool("converged", res.Converged))
			return a.writeDataset(res.Data)
		},
	}
	cmd.Flags().StringVarP(&a.outputDir, "output", "o", "cleaned", "directory for cleaned station files")
	return cmd
}

// writeDataset renders every station of the dataset as a native csv file in
// the output directory.
func (a *app) writeDataset(d *dataset.Dataset) error {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return err
	}
	for j, id := range d.IDs {
		rec := &dataset.Record{
			ID:       id,
			Lon:      d.Lon[j],
			Lat:      d.Lat[j],
			Times:    d.Times,
			TimeExp:  d.TimeExp,
			SpaceExp: d.SpaceExp,
		}
		ne := d.NumEpochs()
		rec.East = make([]float64, ne)
		rec.North = make([]float64, ne)
		rec.Vertical = make([]float64, ne)
		rec.EastSigma = make([]float64, ne)
		rec.NorthSigma = make([]float64, ne)
		rec.VerticalSigma = make([]float64, ne)
		for i := 0; i < ne; i++ {
			rec.East[i] = d.East.Value.At(i, j)
			rec.EastSigma[i] = d.East.Sigma.At(i, j)
			rec.North[i] = d.North.Value.At(i, j)
			rec.NorthSigma[i] = d.North.Sigma.At(i, j)
			rec.Vertical[i] = d.Vertical.Value.At(i, j)
			rec.VerticalSigma[i] = d.Vertical.Sigma.At(i, j)
		}
		path := filepath.Join(a.outputDir, id+".csv")
		if err := os.WriteFile(path, []byte(parser.WriteCSV(rec)), 0o644); err != nil {
			return err
		}
		a.logger.Debug("wrote cleaned station file", zap.String("file", path))
	}
	return nil
}

// strainCmd conditions the horizontal components and evaluates the four
// posterior velocity-gradient fields at every station and epoch, writing
// one file per gradient.
func (a *app) strainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strain",
		Short: "Estimate the posterior velocity-gradient fields on the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			prior, noise, err := cfg.compositions()
			if err != nil {
				return err
			}
			d, err := a.loadDataset()
			if err != nil {
				return err
			}
			query, qsta := d.StationPoints(d.Times)

			if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
				return err
			}
			gradients := []struct {
				file      string
				component string
				diff      kernel.Diff
			}{
				{"dudx", "east", kernel.Diff{T: 1, X: 1}},
				{"dudy", "east", kernel.Diff{T: 1, Y: 1}},
				{"dvdx", "north", kernel.Diff{T: 1, X: 1}},
				{"dvdy", "north", kernel.Diff{T: 1, Y: 1}},
			}
			for _, grad := range gradients {
				obs := d.Observations(d.Components()[grad.component])
				post, err := condition.Differentiate(obs, prior, noise,
					query, qsta, grad.diff, condition.Options{})
				if err != nil {
					return fmt.Errorf("%s: %w", grad.file, err)
				}
				path := filepath.Join(a.outputDir, grad.file+".csv")
				if err := writeGradient(path, d, post); err != nil {
					return err
				}
				a.logger.Info("wrote gradient field",
					zap.String("file", path),
					zap.Int("time_exponent", post.TimeExp),
					zap.Int("space_exponent", post.SpaceExp))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&a.outputDir, "output", "o", "strain", "directory for gradient field files")
	return cmd
}

// writeGradient renders one posterior gradient field as date rows with a
// mean and uncertainty column pair per station, epoch-major to match the
// query grid.
func writeGradient(path string, d *dataset.Dataset, post *condition.Posterior) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(f, "units, meters**%d days**%d\n", post.SpaceExp, post.TimeExp)
	fmt.Fprintf(f, "date")
	for _, id := range d.IDs {
		fmt.Fprintf(f, ", %s, %s std. deviation", id, id)
	}
	fmt.Fprintln(f)
	ns := d.NumStations()
	for i, t := range d.Times {
		fmt.Fprintf(f, "%s", parser.MJDDate(t))
		for j := 0; j < ns; j++ {
			k := i*ns + j
			fmt.Fprintf(f, ", %e, %e", post.Mean[k], math.Sqrt(post.Variance[k]))
		}
		fmt.Fprintln(f)
	}
	return f.Close()
}
