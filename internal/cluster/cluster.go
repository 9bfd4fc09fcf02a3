// Package cluster models the nodes a stress run targets and the loader
// hosts it runs from. Inventory and addressing are supplied by the caller;
// nothing here talks to a cloud provider.
package cluster

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Node is a single database node reachable from the loaders.
type Node struct {
	Name       string `yaml:"name"`
	IPAddress  string `yaml:"ip_address"`
	CQLAddress string `yaml:"cql_address"`
	Region     string `yaml:"region"`
	Datacenter string `yaml:"datacenter"`
}

// Addr returns the address the stress tool should connect to. Falls back
// to the management IP when no separate CQL address is configured.
func (n Node) Addr() string {
	if n.CQLAddress != "" {
		return n.CQLAddress
	}
	return n.IPAddress
}

// Loader is a host that runs stress containers.
type Loader struct {
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	Region    string `yaml:"region"`
	SSHUser   string `yaml:"ssh_user"`
	LogDir    string `yaml:"log_dir"`
}

// LogPath joins a file name onto the loader's log directory.
func (l Loader) LogPath(name string) string {
	return filepath.Join(l.LogDir, name)
}

func (l Loader) String() string {
	if l.Name != "" {
		return l.Name
	}
	return l.IPAddress
}

// CQLAddrs returns the comma-joinable connect addresses for a node list.
func CQLAddrs(nodes []Node) []string {
	addrs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		addrs = append(addrs, n.Addr())
	}
	return addrs
}

// DatacenterResolver maps a cloud region to the datacenter name the
// database reports for it. Loader nodes cannot be asked directly, so the
// mapping comes from the database-node inventory.
type DatacenterResolver interface {
	ResolveDatacenter(region string) (string, bool)
}

// StaticTopology is a DatacenterResolver backed by the node inventory:
// every node that knows both its region and datacenter contributes a
// mapping entry.
type StaticTopology struct {
	byRegion map[string]string
}

// NewStaticTopology builds the region to datacenter mapping from nodes.
func NewStaticTopology(nodes []Node) *StaticTopology {
	m := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.Region != "" && n.Datacenter != "" {
			m[n.Region] = n.Datacenter
		}
	}
	return &StaticTopology{byRegion: m}
}

// ResolveDatacenter implements DatacenterResolver.
func (t *StaticTopology) ResolveDatacenter(region string) (string, bool) {
	dc, ok := t.byRegion[region]
	return dc, ok
}

func (t *StaticTopology) String() string {
	pairs := make([]string, 0, len(t.byRegion))
	for r, dc := range t.byRegion {
		pairs = append(pairs, fmt.Sprintf("%s=%s", r, dc))
	}
	return strings.Join(pairs, ",")
}
