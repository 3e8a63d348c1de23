package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalyst.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  name: node-a
  endpoint: node-a.internal:7000
ports:
  - 8000
  - [8100, 8110]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", cfg.Node.Name)
	require.Equal(t, "0.0.0.0:7000", cfg.BindAddress)
	require.Equal(t, "0.0.0.0", cfg.EnvoyBindAddress)

	pool, err := cfg.Ports.Expand()
	require.NoError(t, err)
	require.Equal(t, 12, pool.Size()) // 1 single + 11-port range
}

func TestValidateRejectsMissingNodeName(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsPeerWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.Name = "node-a"
	cfg.Peers = []PeerSpec{{Name: "B"}}
	err := cfg.Validate()
	require.Error(t, err)
}
