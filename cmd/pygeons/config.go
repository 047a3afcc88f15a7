package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/parser"
	"github.com/fagan2888/PyGeoNS/process"
)

type compositionConfig struct {
	Models []string  `yaml:"models"`
	Params []float64 `yaml:"params"`
	Fixed  []bool    `yaml:"fixed"`
	Lower  []float64 `yaml:"lower"`
	Upper  []float64 `yaml:"upper"`
}

type modelConfig struct {
	Prior         compositionConfig `yaml:"prior"`
	Noise         compositionConfig `yaml:"noise"`
	Threshold     float64           `yaml:"threshold"`
	MaxIterations int               `yaml:"max_iterations"`
}

func (a *app) loadConfig() (*modelConfig, error) {
	raw, err := os.ReadFile(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("reading model configuration: %w", err)
	}
	cfg := &modelConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing model configuration: %w", err)
	}
	return cfg, nil
}

func (cfg *modelConfig) compositions() (prior, noise *process.Composition, err error) {
	prior, err = process.Build(cfg.Prior.Models, cfg.Prior.Params, kernel.Network)
	if err != nil {
		return nil, nil, fmt.Errorf("prior composition: %w", err)
	}
	noise, err = process.Build(cfg.Noise.Models, cfg.Noise.Params, kernel.Station)
	if err != nil {
		return nil, nil, fmt.Errorf("noise composition: %w", err)
	}
	return prior, noise, nil
}

// loadDataset parses every station file in the input directory, merges the
// records, and projects the network onto a local planar frame about its
// centroid.
func (a *app) loadDataset() (*dataset.Dataset, error) {
	parse, ok := parser.Formats[a.format]
	if !ok {
		return nil, fmt.Errorf("unknown station file format %q", a.format)
	}
	entries, err := os.ReadDir(a.inputDir)
	if err != nil {
		return nil, err
	}
	var recs []*dataset.Record
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(a.inputDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rec, err := parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		a.logger.Debug("parsed station file",
			zap.String("file", entry.Name()), zap.String("station", rec.ID),
			zap.Int("epochs", len(rec.Times)))
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	d, err := dataset.FromRecords(recs)
	if err != nil {
		return nil, err
	}
	lon0, lat0 := 0.0, 0.0
	for i := range d.IDs {
		lon0 += d.Lon[i]
		lat0 += d.Lat[i]
	}
	lon0 /= float64(len(d.IDs))
	lat0 /= float64(len(d.IDs))
	d.Project(localProjection(lon0, lat0))
	a.logger.Info("dataset loaded",
		zap.Int("stations", d.NumStations()), zap.Int("epochs", d.NumEpochs()))
	return d, nil
}
