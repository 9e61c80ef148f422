// Package sources provides the production NodeSource implementations:
// an LDAP source for directory-service nodes and an SNMP source for
// host-level counters.
package sources

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/collector"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

// Monitoring subtrees exposed by the directory service.
const (
	monitorBase     = "cn=Monitor"
	servicesBase    = "cn=Services,cn=Monitor"
	replicationBase = "cn=Replication,cn=Monitor"
	securityBase    = "cn=Security Events,cn=Monitor"
)

// LDAPSource collects the full bundle from a directory-service node
// over LDAP. Credentials are taken from the per-node config; there is
// no ambient domain context.
type LDAPSource struct {
	dial func(ctx context.Context, addr string) (ldapConn, error)
}

// ldapConn is the subset of *ldap.Conn the source uses; split out so
// tests can fake the directory.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

func NewLDAPSource() *LDAPSource {
	return &LDAPSource{dial: dialLDAP}
}

func dialLDAP(ctx context.Context, addr string) (ldapConn, error) {
	d := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	conn, err := ldap.DialURL("ldap://"+addr, ldap.DialWithDialer(d))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}
	return conn, nil
}

// Collect queries the node's monitoring subtrees. A bind failure is an
// authentication error and is never retried; a failed category on an
// otherwise reachable node is reported as partial data.
func (s *LDAPSource) Collect(ctx context.Context, nc config.NodeConfig) (*collector.Bundle, error) {
	conn, err := s.dial(ctx, nc.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", nc.Addr)
	}
	defer conn.Close()

	if err := conn.Bind(nc.BindDN, nc.BindPass); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, errors.Wrapf(collector.ErrAuthentication, "bind %s: %v", nc.BindDN, err)
		}
		return nil, errors.Wrap(err, "bind")
	}

	bundle := &collector.Bundle{Partial: make(map[string]error)}
	now := time.Now()

	if metrics, err := s.fetchMetrics(conn, now); err != nil {
		bundle.Partial[collector.CategoryMetrics] = err
	} else {
		bundle.Metrics = metrics
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if services, err := s.fetchServices(conn, now); err != nil {
		bundle.Partial[collector.CategoryServices] = err
	} else {
		bundle.Services = services
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if links, err := s.fetchReplication(conn, nc.Name, now); err != nil {
		bundle.Partial[collector.CategoryReplication] = err
	} else {
		bundle.Links = links
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if events, err := s.fetchEvents(conn); err != nil {
		bundle.Partial[collector.CategoryEvents] = err
	} else {
		bundle.Events = events
	}

	// all four categories failing means the node is effectively unreachable
	if len(bundle.Partial) == 4 {
		return nil, errors.Errorf("all categories failed: %v", bundle.Partial[collector.CategoryMetrics])
	}
	if len(bundle.Partial) == 0 {
		bundle.Partial = nil
	}
	return bundle, nil
}

func (s *LDAPSource) fetchMetrics(conn ldapConn, now time.Time) ([]domain.MetricSample, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		monitorBase, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", nil, nil,
	))
	if err != nil {
		return nil, err
	}
	var samples []domain.MetricSample
	for _, entry := range res.Entries {
		for _, attr := range entry.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			v, err := strconv.ParseFloat(attr.Values[0], 64)
			if err != nil {
				continue
			}
			samples = append(samples, domain.MetricSample{
				Counter:   attr.Name,
				Value:     v,
				Timestamp: now,
			})
		}
	}
	return samples, nil
}

func (s *LDAPSource) fetchServices(conn ldapConn, now time.Time) ([]domain.ServiceStatus, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		servicesBase, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"cn", "serviceState"}, nil,
	))
	if err != nil {
		return nil, err
	}
	statuses := make([]domain.ServiceStatus, 0, len(res.Entries))
	for _, entry := range res.Entries {
		statuses = append(statuses, domain.ServiceStatus{
			ServiceName: entry.GetAttributeValue("cn"),
			State:       normalizeServiceState(entry.GetAttributeValue("serviceState")),
			LastChecked: now,
		})
	}
	return statuses, nil
}

func (s *LDAPSource) fetchReplication(conn ldapConn, nodeName string, now time.Time) ([]domain.ReplicationLinkInfo, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		replicationBase, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"partnerName", "partition", "lastSyncSuccess", "consecutiveFailures", "lagSeconds"}, nil,
	))
	if err != nil {
		return nil, err
	}
	links := make([]domain.ReplicationLinkInfo, 0, len(res.Entries))
	for _, entry := range res.Entries {
		lastSuccess, _ := time.Parse("20060102150405Z", entry.GetAttributeValue("lastSyncSuccess"))
		failures, _ := strconv.Atoi(entry.GetAttributeValue("consecutiveFailures"))
		lagSec, _ := strconv.ParseInt(entry.GetAttributeValue("lagSeconds"), 10, 64)
		lag := time.Duration(lagSec) * time.Second
		if lagSec == 0 && !lastSuccess.IsZero() {
			lag = now.Sub(lastSuccess)
		}
		links = append(links, domain.ReplicationLinkInfo{
			SourceNode:          nodeName,
			PartnerNode:         entry.GetAttributeValue("partnerName"),
			Partition:           entry.GetAttributeValue("partition"),
			LastSuccess:         lastSuccess,
			ConsecutiveFailures: failures,
			Lag:                 lag,
		})
	}
	return links, nil
}

func (s *LDAPSource) fetchEvents(conn ldapConn) ([]domain.SecurityEvent, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		securityBase, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"eventId", "eventTime", "subject", "eventCategory"}, nil,
	))
	if err != nil {
		return nil, err
	}
	events := make([]domain.SecurityEvent, 0, len(res.Entries))
	for _, entry := range res.Entries {
		ts, _ := time.Parse("20060102150405Z", entry.GetAttributeValue("eventTime"))
		events = append(events, domain.SecurityEvent{
			EventID:   entry.GetAttributeValue("eventId"),
			Timestamp: ts,
			Subject:   entry.GetAttributeValue("subject"),
			Category:  normalizeEventCategory(entry.GetAttributeValue("eventCategory")),
		})
	}
	return events, nil
}

func normalizeServiceState(state string) string {
	switch state {
	case "running", "started":
		return domain.SvcRunning
	case "stopped":
		return domain.SvcStopped
	case "starting", "stopping", "pending":
		return domain.SvcTransitioning
	case "":
		return domain.SvcMissing
	default:
		return domain.SvcUnknown
	}
}

func normalizeEventCategory(category string) string {
	switch category {
	case "authFailure", "auth_failure":
		return domain.EventAuthFailure
	case "privilegedAction", "privileged_action":
		return domain.EventPrivilegedAction
	case "accountChange", "account_change":
		return domain.EventAccountChange
	default:
		return fmt.Sprintf("other:%s", category)
	}
}
