package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/config"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

const sampleSpaceYAML = `
space: test-space
participants:
  - id: echo
    kind: agent
    token: tok-echo
    capabilities:
      - id: c1
        kind: "*"
  - id: driver
    kind: human
    token: tok-driver
`

func TestLoadSpaceFileParsesParticipants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSpaceYAML), 0o644))

	sf, err := config.LoadSpaceFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-space", sf.Space)
	require.Len(t, sf.Participants, 2)
	assert.Equal(t, "echo", sf.Participants[0].ID)
	assert.Equal(t, "agent", sf.Participants[0].Kind)
	require.Len(t, sf.Participants[0].Capabilities, 1)
	assert.Equal(t, "*", sf.Participants[0].Capabilities[0].Kind)
}

func TestSpaceFileApplyConfiguresRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSpaceYAML), 0o644))

	sf, err := config.LoadSpaceFile(path)
	require.NoError(t, err)

	reg := registry.NewInMemoryRegistry()
	require.NoError(t, sf.Apply(reg))

	p, err := reg.ResolveByToken("tok-echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", p.ID)
	assert.Equal(t, registry.KindAgent, p.Kind)
}

func TestLoadSpaceFileMissingFile(t *testing.T) {
	_, err := config.LoadSpaceFile("/nonexistent/space.yaml")
	assert.Error(t, err)
}
