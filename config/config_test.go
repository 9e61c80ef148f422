package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirsentry.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
system:
  workdir: /tmp/dirsentry
monitor:
  nodes:
    - name: dc1
      addr: dc1.example.org:389
      source: ldap
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "dirsentry", cfg.System.Appname)
	require.Equal(t, time.Minute, cfg.Monitor.Interval)
	require.Equal(t, 5*time.Second, cfg.Monitor.NodeTimeout)
	require.Equal(t, 25, cfg.Monitor.MaxWorkers)
	require.Equal(t, 10*time.Minute, cfg.Alerting.Cooldown)
	require.Equal(t, 15*time.Minute, cfg.Replication.MaxAcceptableLag)
	require.Len(t, cfg.Threats.Rules, 3)
	require.Equal(t, "auth_failure_burst", cfg.Threats.Rules[0].Type)
	require.Equal(t, 10, cfg.Threats.Rules[0].Trigger)
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
monitor:
  interval: 30s
  node_timeout: 3s
  max_retries: 2
  nodes:
    - name: dc1
      addr: dc1.example.org:389
      bind_dn: cn=monitor,dc=example,dc=org
      bind_pass: secret
    - name: edge1
      addr: edge1.example.org
      source: snmp
      community: public
alerting:
  cooldown: 5m
  silence_period: 3
  thresholds:
    - counter_pattern: "currentConnections"
      category: connections
      warning_level: 800
      critical_level: 1000
      persistence_window: 2
services:
  max_attempts: 2
  descriptors:
    - name: directory
      restart_allowed: true
    - name: indexer
      restart_allowed: true
      depends_on: [directory]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	require.Len(t, cfg.Monitor.Nodes, 2)
	require.Equal(t, "snmp", cfg.Monitor.Nodes[1].Source)
	require.Len(t, cfg.Alerting.Thresholds, 1)
	require.Equal(t, 2, cfg.Alerting.Thresholds[0].PersistenceWindow)
	require.Equal(t, []string{"directory"}, cfg.Services.Descriptors[1].DependsOn)
}

func TestValidateRejectsBadTables(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "duplicate node",
			content: `
monitor:
  nodes:
    - {name: dc1, addr: a}
    - {name: dc1, addr: b}
`,
		},
		{
			name: "unknown source",
			content: `
monitor:
  nodes:
    - {name: dc1, addr: a, source: wmi}
`,
		},
		{
			name: "critical below warning",
			content: `
alerting:
  thresholds:
    - {counter_pattern: x, category: c, warning_level: 10, critical_level: 5, persistence_window: 1}
`,
		},
		{
			name: "missing category",
			content: `
alerting:
  thresholds:
    - {counter_pattern: x, warning_level: 1, critical_level: 2, persistence_window: 1}
`,
		},
		{
			name: "unknown dependency",
			content: `
services:
  descriptors:
    - {name: a, restart_allowed: true, depends_on: [ghost]}
`,
		},
		{
			name: "zero trigger rule",
			content: `
threats:
  rules:
    - {type: t, category: auth_failure, window: 5m, trigger: 0, severity: high}
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/dirsentry.yml")
	require.Error(t, err)
}
