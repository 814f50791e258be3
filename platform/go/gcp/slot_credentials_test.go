package gcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotCredentialsClientOptions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot-pool-001.json"), []byte(`{}`), 0o600))

	creds := SlotCredentials{Dir: dir}

	opts, err := creds.ClientOptions("bot-pool-001")
	require.NoError(t, err)
	require.Len(t, opts, 1)

	_, err = creds.ClientOptions("bot-pool-002")
	require.ErrorIs(t, err, ErrNoSlotCredentials)

	_, err = creds.ClientOptions("../etc/passwd")
	require.Error(t, err)

	_, err = creds.ClientOptions(" ")
	require.Error(t, err)
}

func TestSlotCredentialsFallsBackToADC(t *testing.T) {
	opts, err := SlotCredentials{}.ClientOptions("bot-pool-001")
	require.NoError(t, err)
	require.Empty(t, opts)
}
