// ABOUTME: Tests for assembling an agent from config
// ABOUTME: Builds runtimes over the local, stub and ledger transports without the network

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-runtime/internal/config"
	"github.com/2389/agent-runtime/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Agent: config.AgentConfig{Name: "echo", Address: "agent-1", DefaultConnection: "stub"},
		Connections: []config.ConnectionConfig{
			{ID: "stub", Type: "stub", Config: map[string]any{"namespace_dir": filepath.Join(dir, "ns")}},
			{ID: "local", Type: "local"},
			{ID: "ledger", Type: "ledger", Config: map[string]any{"workers": 1}},
		},
		Skills: []config.SkillConfig{
			{Name: "echo"},
			{Name: "balance_watch", Config: map[string]any{"connection": "ledger", "ledger_id": "fetchai"}},
		},
		Ledgers:  []string{"fetchai"},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "agent.db")},
		Workers:  config.WorkersConfig{Max: 2, Queue: 8},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

func TestBuild(t *testing.T) {
	rt, err := build(testConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, "echo", rt.agent.Name())
	assert.Len(t, rt.mux.Connections(), 3)
	assert.Equal(t, "stub", rt.mux.DefaultConnection().ID())
	assert.NotNil(t, rt.collector)
	assert.NotNil(t, rt.store)

	_, ok := rt.agent.Handler(protocol.DefaultProtocolID)
	assert.True(t, ok)
	_, ok = rt.agent.Handler(protocol.LedgerProtocolID)
	assert.True(t, ok)
	assert.Len(t, rt.agent.Behaviours(), 1)
}

func TestBuild_UnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Connections = append(cfg.Connections, config.ConnectionConfig{ID: "carrier", Type: "pigeon"})

	_, err := build(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigeon")
}

func TestBuild_UnknownSkill(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skills = append(cfg.Skills, config.SkillConfig{Name: "juggling"})

	_, err := build(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "juggling")
}

func TestBuild_LedgerNeedsStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""

	_, err := build(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "x.yaml", getConfigPath([]string{"x.yaml"}))

	t.Setenv("AGENT_CONFIG", "/etc/agent.toml")
	assert.Equal(t, "/etc/agent.toml", getConfigPath(nil))

	t.Setenv("AGENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "agent-runtime", "agent.yaml"), getConfigPath(nil))
}
