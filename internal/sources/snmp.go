package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/collector"
	"github.com/dirsentry/dirsentry/internal/domain"
	gosnmp "github.com/gosnmp/gosnmp"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Counters polled from nodes that only expose SNMP. An SNMP-sourced
// node contributes metrics; the remaining categories come back empty
// rather than partial, since the node never offers them.
var snmpCounters = map[string]string{
	".1.3.6.1.4.1.2021.11.11.0":  "host_cpu_idle",
	".1.3.6.1.4.1.2021.4.6.0":    "host_mem_avail_kb",
	".1.3.6.1.4.1.2021.10.1.3.1": "host_load1",
}

// SNMPSource is the secondary NodeSource for host-level counters.
type SNMPSource struct {
	get func(nc config.NodeConfig, timeout time.Duration, oids []string) (*gosnmp.SnmpPacket, error)
}

func NewSNMPSource() *SNMPSource {
	return &SNMPSource{get: snmpGet}
}

func snmpGet(nc config.NodeConfig, timeout time.Duration, oids []string) (*gosnmp.SnmpPacket, error) {
	port := uint16(nc.SnmpPort)
	if port == 0 {
		port = 161
	}
	params := &gosnmp.GoSNMP{
		Target:    nc.Addr,
		Port:      port,
		Community: nc.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
	}
	if err := params.Connect(); err != nil {
		return nil, err
	}
	defer params.Conn.Close()
	return params.Get(oids)
}

func (s *SNMPSource) Collect(ctx context.Context, nc config.NodeConfig) (*collector.Bundle, error) {
	if nc.Community == "" {
		return nil, errors.Wrap(collector.ErrAuthentication, "snmp community not configured")
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	oids := make([]string, 0, len(snmpCounters))
	for oid := range snmpCounters {
		oids = append(oids, oid)
	}
	result, err := s.get(nc, timeout, oids)
	if err != nil {
		return nil, errors.Wrapf(err, "snmp get %s", nc.Addr)
	}
	if result == nil || len(result.Variables) == 0 {
		return nil, errors.New("empty SNMP result")
	}

	now := time.Now()
	bundle := &collector.Bundle{}
	for _, v := range result.Variables {
		name, ok := snmpCounters[v.Name]
		if !ok {
			name = fmt.Sprintf("oid:%s", v.Name)
		}
		bundle.Metrics = append(bundle.Metrics, domain.MetricSample{
			Counter:   name,
			Value:     cast.ToFloat64(v.Value),
			Timestamp: now,
		})
	}
	return bundle, nil
}
