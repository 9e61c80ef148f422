package sources

import (
	"context"
	"strconv"

	"github.com/dirsentry/dirsentry/config"
	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

const tasksDN = "cn=Tasks"

// LDAPActuator performs remediation operations against
// directory-service nodes over their LDAP task interface: service
// restarts and replication sync requests are written to the tasks
// entry, pending-operation counts are read from the monitor entry.
type LDAPActuator struct {
	nodes map[string]config.NodeConfig
	dial  func(ctx context.Context, addr string) (ldapConn, error)
}

func NewLDAPActuator(nodes []config.NodeConfig) *LDAPActuator {
	byName := make(map[string]config.NodeConfig, len(nodes))
	for _, nc := range nodes {
		byName[nc.Name] = nc
	}
	return &LDAPActuator{nodes: byName, dial: dialLDAP}
}

func (a *LDAPActuator) connect(ctx context.Context, node string) (ldapConn, error) {
	nc, ok := a.nodes[node]
	if !ok {
		return nil, errors.Errorf("unknown node %q", node)
	}
	conn, err := a.dial(ctx, nc.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", nc.Addr)
	}
	if err := conn.Bind(nc.BindDN, nc.BindPass); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "bind")
	}
	return conn, nil
}

// RestartService writes a restart task for the named service.
func (a *LDAPActuator) RestartService(ctx context.Context, node, service string) error {
	conn, err := a.connect(ctx, node)
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(tasksDN, nil)
	req.Add("restartService", []string{service})
	if err := conn.Modify(req); err != nil {
		return errors.Wrapf(err, "restart %s on %s", service, node)
	}
	return nil
}

// ForceReplicationSync writes a replicate-now task covering all partitions.
func (a *LDAPActuator) ForceReplicationSync(ctx context.Context, node string) error {
	conn, err := a.connect(ctx, node)
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(tasksDN, nil)
	req.Add("replicateNow", []string{"*"})
	if err := conn.Modify(req); err != nil {
		return errors.Wrapf(err, "force sync on %s", node)
	}
	return nil
}

// PendingOperations reads the node's pending replication operation count.
func (a *LDAPActuator) PendingOperations(ctx context.Context, node string) (int, error) {
	conn, err := a.connect(ctx, node)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	res, err := conn.Search(ldap.NewSearchRequest(
		monitorBase, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"pendingReplicationOperations"}, nil,
	))
	if err != nil {
		return 0, errors.Wrapf(err, "query pending operations on %s", node)
	}
	if len(res.Entries) == 0 {
		return 0, errors.Errorf("node %s exposes no monitor entry", node)
	}
	n, err := strconv.Atoi(res.Entries[0].GetAttributeValue("pendingReplicationOperations"))
	if err != nil {
		return 0, errors.Wrap(err, "parse pending operations")
	}
	return n, nil
}
