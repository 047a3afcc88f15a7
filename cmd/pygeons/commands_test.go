package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fagan2888/PyGeoNS/condition"
	"github.com/fagan2888/PyGeoNS/dataset"
)

func TestWriteGradient(t *testing.T) {
	t.Parallel()

	d := dataset.New([]string{"A001", "B002"},
		[]float64{-120, -119}, []float64{36, 36.5}, []int{51544, 51545, 51546})
	post := &condition.Posterior{
		Mean:     make([]float64, 6),
		Variance: make([]float64, 6),
		TimeExp:  -1,
		SpaceExp: 0,
	}
	for k := range post.Mean {
		post.Mean[k] = float64(k) * 1e-8
		post.Variance[k] = 1e-18
	}

	path := filepath.Join(t.TempDir(), "dudx.csv")
	require.NoError(t, writeGradient(path, d, post))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 5) // units, header, one row per epoch
	require.Equal(t, "units, meters**0 days**-1", lines[0])
	require.Equal(t, "date, A001, A001 std. deviation, B002, B002 std. deviation", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "2000-01-01"))

	// Epoch-major layout: the row for epoch i carries element i*ns+j for
	// station j.
	fields := strings.Split(lines[3], ", ")
	require.Len(t, fields, 5)
	v, err := strconv.ParseFloat(fields[3], 64)
	require.NoError(t, err)
	require.InDelta(t, post.Mean[1*2+1], v, 1e-13)
}
