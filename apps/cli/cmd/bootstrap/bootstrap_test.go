package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSlotArg(t *testing.T) {
	spec, err := parseSlotArg(" slot-01 = pool-project-01 ")
	require.NoError(t, err)
	require.Equal(t, SlotSpec{SlotID: "slot-01", ProjectID: "pool-project-01"}, spec)

	for _, bad := range []string{"slot-01", "=pool-project-01", "slot-01=", ""} {
		_, err := parseSlotArg(bad)
		require.Error(t, err, bad)
	}
}

func TestCollectSlotsMergesFlagsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"slotId":"slot-02","projectId":"pool-project-02"}]`), 0o600))

	specs, err := collectSlots([]string{"slot-01=pool-project-01"}, path)
	require.NoError(t, err)
	require.Equal(t, []SlotSpec{
		{SlotID: "slot-01", ProjectID: "pool-project-01"},
		{SlotID: "slot-02", ProjectID: "pool-project-02"},
	}, specs)
}

func TestCollectSlotsRejectsDuplicatesAndBlankEntries(t *testing.T) {
	_, err := collectSlots([]string{"slot-01=a", "slot-01=b"}, "")
	require.ErrorContains(t, err, "listed twice")

	path := filepath.Join(t.TempDir(), "slots.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"slotId":"slot-03"}]`), 0o600))
	_, err = collectSlots(nil, path)
	require.ErrorContains(t, err, "entry 0")
}

func TestCollectSlotsEmpty(t *testing.T) {
	specs, err := collectSlots(nil, "")
	require.NoError(t, err)
	require.Empty(t, specs)
}
