package scenarios

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/infra/memory"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob("testdata/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		sc, err := Load(f)
		require.NoError(t, err, f)
		t.Run(sc.Name, func(t *testing.T) {
			r := NewRunner(sc)
			defer r.Close()
			assert.NoError(t, r.Run(context.Background(), sc))
		})
	}
}

func TestRunReportsMismatch(t *testing.T) {
	sc, err := Parse([]byte(`
name: mismatch
vehicles: [{id: T1, lat: 48.9, lon: 2.3}]
steps:
  - {action: create_dispatch}
`))
	require.NoError(t, err)
	r := NewRunner(sc)
	defer r.Close()
	err = r.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got rejected, want ok")
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("no-file.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Parse([]byte("name: x\nsteps: [{action: fly}]"))
	assert.ErrorContains(t, err, "unknown action")
	_, err = Parse([]byte("name: x\nsteps: [{action: complete_order}]"))
	assert.ErrorContains(t, err, "needs a target")
	_, err = Parse([]byte("name: x\nsteps: [{action: create_dispatch, expect: maybe}]"))
	assert.ErrorContains(t, err, "unknown expectation")
}

func TestSeed(t *testing.T) {
	sc, err := Load("testdata/full_cycle.yaml")
	require.NoError(t, err)
	mem := memory.New()
	sc.Seed(mem)

	pending, err := mem.PendingOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	v, err := mem.VehicleByDriver(context.Background(), "drv2")
	require.NoError(t, err)
	assert.Equal(t, "T2", v.ID)
	d, err := mem.Depot(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "North depot", d.Name)
}
