package diagnostics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeVendorLibrariesFailsWhenNoneFound(t *testing.T) {
	dir := t.TempDir()

	probe, err := ProbeVendorLibraries(dir)
	require.Error(t, err)
	require.Empty(t, probe.Loaded)
	require.True(t, probe.ReadOnly)
}

func TestProbeVendorLibrariesReportsLoadFailure(t *testing.T) {
	dir := t.TempDir()
	// Not a valid ELF plugin; plugin.Open must fail and be surfaced.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "device.so"), []byte("not-a-plugin"), 0o644))

	_, err := ProbeVendorLibraries(dir)
	require.Error(t, err)
}

func TestGatherHostFactsNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		facts := GatherHostFacts()
		require.NotNil(t, facts)
	})
}
