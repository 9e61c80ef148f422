package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigurationError is fatal at startup: the engine must not run with
// an invalid threshold, descriptor or rule table.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

type SysConfig struct {
	Appname  string `yaml:"appname" json:"appname"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"` // production / development
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	Debug    bool   `yaml:"debug" json:"debug"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

// NodeConfig declares one monitored node. Credentials are scoped per
// node; there is no process-wide implicit domain context.
type NodeConfig struct {
	Name     string `yaml:"name" json:"name"`
	Addr     string `yaml:"addr" json:"addr"`
	Source   string `yaml:"source" json:"source"` // ldap / snmp
	BaseDN   string `yaml:"base_dn" json:"base_dn"`
	BindDN   string `yaml:"bind_dn" json:"bind_dn"`
	BindPass string `yaml:"bind_pass" json:"bind_pass"`

	// SNMP-sourced nodes
	Community string `yaml:"community" json:"community"`
	SnmpPort  int    `yaml:"snmp_port" json:"snmp_port"`

	Tags string `yaml:"tags" json:"tags"`
}

// ThresholdRule is one declarative alerting rule. A counter breaches
// when its value exceeds the warning or critical level for at least
// PersistenceWindow consecutive cycles.
type ThresholdRule struct {
	CounterPattern    string  `yaml:"counter_pattern" json:"counter_pattern"` // path.Match pattern
	Category          string  `yaml:"category" json:"category"`
	WarningLevel      float64 `yaml:"warning_level" json:"warning_level"`
	CriticalLevel     float64 `yaml:"critical_level" json:"critical_level"`
	PersistenceWindow int     `yaml:"persistence_window" json:"persistence_window"` // cycles
}

type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`           // cycle period
	NodeTimeout  time.Duration `yaml:"node_timeout" json:"node_timeout"`   // per-node collection deadline
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`     // transient failure retries
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"` // base backoff, doubled per attempt
	MaxWorkers   int           `yaml:"max_workers" json:"max_workers"`     // concurrent node probes
	Nodes        []NodeConfig  `yaml:"nodes" json:"nodes"`
}

type SmtpConfig struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

type AlertingConfig struct {
	Cooldown      time.Duration   `yaml:"cooldown" json:"cooldown"`             // coalesce window for repeat breaches
	SilencePeriod int             `yaml:"silence_period" json:"silence_period"` // cycles without breach before archive
	QueuePath     string          `yaml:"queue_path" json:"queue_path"`         // bbolt dispatch retry queue
	RetryBackoff  time.Duration   `yaml:"retry_backoff" json:"retry_backoff"`
	Thresholds    []ThresholdRule `yaml:"thresholds" json:"thresholds"`
	Smtp          SmtpConfig      `yaml:"smtp" json:"smtp"`
}

type ReplicationConfig struct {
	MaxAcceptableLag time.Duration `yaml:"max_acceptable_lag" json:"max_acceptable_lag"`
	PollInterval     time.Duration `yaml:"poll_interval" json:"poll_interval"` // convergence poll period
	SyncTimeout      time.Duration `yaml:"sync_timeout" json:"sync_timeout"`
}

type ServicesConfig struct {
	GracePeriod   time.Duration              `yaml:"grace_period" json:"grace_period"` // wait after restart before re-check
	MaxAttempts   int                        `yaml:"max_attempts" json:"max_attempts"`
	AttemptWindow time.Duration              `yaml:"attempt_window" json:"attempt_window"` // rolling flap-protection window
	Descriptors   []domain.ServiceDescriptor `yaml:"descriptors" json:"descriptors"`
}

type ThreatConfig struct {
	Rules []domain.ThreatRule `yaml:"rules" json:"rules"`
}

type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

type AppConfig struct {
	System      SysConfig         `yaml:"system" json:"system"`
	Logger      LogConfig         `yaml:"logger" json:"logger"`
	Database    DBConfig          `yaml:"database" json:"database"`
	Monitor     MonitorConfig     `yaml:"monitor" json:"monitor"`
	Alerting    AlertingConfig    `yaml:"alerting" json:"alerting"`
	Replication ReplicationConfig `yaml:"replication" json:"replication"`
	Services    ServicesConfig    `yaml:"services" json:"services"`
	Threats     ThreatConfig      `yaml:"threats" json:"threats"`
	Web         WebConfig         `yaml:"web" json:"web"`
}

// DefaultThreatRules covers the stock detection table; used when the
// threat rule list is left empty in the config file.
var DefaultThreatRules = []domain.ThreatRule{
	{Type: "auth_failure_burst", Category: domain.EventAuthFailure, Window: 15 * time.Minute, Trigger: 10, Severity: domain.SeverityHigh},
	{Type: "privileged_action_spike", Category: domain.EventPrivilegedAction, Window: 15 * time.Minute, Trigger: 50, Severity: domain.SeverityMedium},
	{Type: "account_churn", Category: domain.EventAccountChange, Window: time.Hour, Trigger: 5, Severity: domain.SeverityMedium},
}

// LoadConfig reads and validates the YAML configuration file.
// Validation is eager: the engine refuses to start on any schema error.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := &AppConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.System.Appname == "" {
		c.System.Appname = "dirsentry"
	}
	if c.System.Location == "" {
		c.System.Location = "UTC"
	}
	if c.System.Workdir == "" {
		c.System.Workdir = "/var/dirsentry"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = time.Minute
	}
	if c.Monitor.NodeTimeout <= 0 {
		c.Monitor.NodeTimeout = 5 * time.Second
	}
	if c.Monitor.MaxRetries < 0 {
		c.Monitor.MaxRetries = 0
	}
	if c.Monitor.RetryBackoff <= 0 {
		c.Monitor.RetryBackoff = time.Second
	}
	if c.Monitor.MaxWorkers <= 0 {
		c.Monitor.MaxWorkers = 25
	}
	if c.Alerting.Cooldown <= 0 {
		c.Alerting.Cooldown = 10 * time.Minute
	}
	if c.Alerting.SilencePeriod <= 0 {
		c.Alerting.SilencePeriod = 5
	}
	if c.Alerting.RetryBackoff <= 0 {
		c.Alerting.RetryBackoff = 30 * time.Second
	}
	if c.Replication.MaxAcceptableLag <= 0 {
		c.Replication.MaxAcceptableLag = 15 * time.Minute
	}
	if c.Replication.PollInterval <= 0 {
		c.Replication.PollInterval = 2 * time.Second
	}
	if c.Replication.SyncTimeout <= 0 {
		c.Replication.SyncTimeout = 30 * time.Second
	}
	if c.Services.GracePeriod <= 0 {
		c.Services.GracePeriod = 30 * time.Second
	}
	if c.Services.MaxAttempts <= 0 {
		c.Services.MaxAttempts = 3
	}
	if c.Services.AttemptWindow <= 0 {
		c.Services.AttemptWindow = time.Hour
	}
	if len(c.Threats.Rules) == 0 {
		c.Threats.Rules = DefaultThreatRules
	}
	if c.Web.Port == 0 {
		c.Web.Port = 1979
	}
}

// Validate checks the threshold, descriptor and threat rule tables.
func (c *AppConfig) Validate() error {
	seen := make(map[string]bool)
	for i, n := range c.Monitor.Nodes {
		if n.Name == "" || n.Addr == "" {
			return &ConfigurationError{Field: fmt.Sprintf("monitor.nodes[%d]", i), Reason: "name and addr are required"}
		}
		if seen[n.Name] {
			return &ConfigurationError{Field: fmt.Sprintf("monitor.nodes[%d]", i), Reason: "duplicate node name " + n.Name}
		}
		seen[n.Name] = true
		switch n.Source {
		case "", "ldap", "snmp":
		default:
			return &ConfigurationError{Field: fmt.Sprintf("monitor.nodes[%d].source", i), Reason: "unknown source " + n.Source}
		}
	}
	for i, t := range c.Alerting.Thresholds {
		if t.CounterPattern == "" {
			return &ConfigurationError{Field: fmt.Sprintf("alerting.thresholds[%d]", i), Reason: "counter_pattern is required"}
		}
		if t.Category == "" {
			return &ConfigurationError{Field: fmt.Sprintf("alerting.thresholds[%d]", i), Reason: "category is required"}
		}
		if t.CriticalLevel < t.WarningLevel {
			return &ConfigurationError{Field: fmt.Sprintf("alerting.thresholds[%d]", i), Reason: "critical_level below warning_level"}
		}
		if t.PersistenceWindow < 1 {
			return &ConfigurationError{Field: fmt.Sprintf("alerting.thresholds[%d]", i), Reason: "persistence_window must be >= 1"}
		}
	}
	names := make(map[string]bool, len(c.Services.Descriptors))
	for _, d := range c.Services.Descriptors {
		names[d.Name] = true
	}
	for i, d := range c.Services.Descriptors {
		if d.Name == "" {
			return &ConfigurationError{Field: fmt.Sprintf("services.descriptors[%d]", i), Reason: "name is required"}
		}
		for _, dep := range d.DependsOn {
			if !names[dep] {
				return &ConfigurationError{Field: fmt.Sprintf("services.descriptors[%d]", i), Reason: "unknown dependency " + dep}
			}
			if dep == d.Name {
				return &ConfigurationError{Field: fmt.Sprintf("services.descriptors[%d]", i), Reason: "service depends on itself"}
			}
		}
	}
	for i, r := range c.Threats.Rules {
		if r.Type == "" || r.Category == "" {
			return &ConfigurationError{Field: fmt.Sprintf("threats.rules[%d]", i), Reason: "type and category are required"}
		}
		if r.Window <= 0 {
			return &ConfigurationError{Field: fmt.Sprintf("threats.rules[%d]", i), Reason: "window must be positive"}
		}
		if r.Trigger < 1 {
			return &ConfigurationError{Field: fmt.Sprintf("threats.rules[%d]", i), Reason: "trigger must be >= 1"}
		}
	}
	return nil
}
