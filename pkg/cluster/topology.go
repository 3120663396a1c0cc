package cluster

import (
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/dctables/pkg/errors"
)

// DefaultAgentPort is the port node agents listen on unless configured.
const DefaultAgentPort = 5450

// Node is one database node.
type Node struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`         // agent port
	DSN         string `mapstructure:"dsn" yaml:"dsn"`           // direct SQL access, sql transport only
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
}

// Address returns host:port of the node agent.
func (n Node) Address() string {
	port := n.Port
	if port == 0 {
		port = DefaultAgentPort
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(port))
}

// Topology describes the nodes of one database.
type Topology struct {
	Database    string `mapstructure:"database" yaml:"database"`
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
	Nodes       []Node `mapstructure:"nodes" yaml:"nodes"`
}

// Validate checks node names are present and unique.
func (t *Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return errors.New(errors.ErrorTypeConfig, "cluster has no nodes")
	}
	seen := make(map[string]bool, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "node %d has no name", i)
		}
		if seen[n.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate node %q", n.Name)
		}
		seen[n.Name] = true
		if n.Host == "" && n.DSN == "" {
			return errors.Newf(errors.ErrorTypeConfig, "node %q needs a host or a dsn", n.Name)
		}
	}
	return nil
}

// CatalogFor returns the catalog path to send to node n.
func (t *Topology) CatalogFor(n Node) string {
	if n.CatalogPath != "" {
		return n.CatalogPath
	}
	return t.CatalogPath
}

// LoadAdminTools reads the node list of database from an admintools.conf
// file. Each node entry there has the form
//
//	v_db_node0001 = 10.0.0.1,/catalog/base,/data/base
//
// and the database section lists the nodes that belong to it. When database
// is empty the file must describe exactly one database.
func LoadAdminTools(path, database string) (*Topology, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read "+path)
	}
	return topologyFromAdminTools(v, database)
}

func topologyFromAdminTools(v *viper.Viper, database string) (*Topology, error) {
	section, err := databaseSection(v, database)
	if err != nil {
		return nil, err
	}
	if database == "" {
		database = strings.TrimPrefix(section, "database:")
	}
	// path names the first node's catalog directory inside the database
	// directory, which keeps the original case of the database name
	var base string
	if p := v.GetString(section + ".path"); p != "" {
		base = filepath.Dir(p)
	}

	names := splitList(v.GetString(section + ".nodes"))
	if len(names) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "database %q lists no nodes", database)
	}
	port := v.GetInt("cluster.agent_port")

	topo := &Topology{Database: database}
	for _, name := range names {
		entry := splitList(v.GetString("nodes." + strings.ToLower(name)))
		if len(entry) == 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "node %q of database %q has no entry in [Nodes]", name, database)
		}
		node := Node{Name: name, Host: entry[0], Port: port}
		switch {
		case base != "":
			node.CatalogPath = filepath.Join(base, name+"_catalog")
		case len(entry) > 1:
			node.CatalogPath = filepath.Join(entry[1], database, name+"_catalog")
		}
		if topo.CatalogPath == "" {
			topo.CatalogPath = node.CatalogPath
		}
		topo.Nodes = append(topo.Nodes, node)
	}
	return topo, topo.Validate()
}

func databaseSection(v *viper.Viper, database string) (string, error) {
	if database != "" {
		section := "database:" + strings.ToLower(database)
		if !v.IsSet(section + ".nodes") {
			return "", errors.Newf(errors.ErrorTypeNotFound, "database %q not found", database)
		}
		return section, nil
	}

	var found []string
	for key := range v.AllSettings() {
		if strings.HasPrefix(key, "database:") {
			found = append(found, key)
		}
	}
	switch len(found) {
	case 0:
		return "", errors.New(errors.ErrorTypeConfig, "no database defined")
	case 1:
		return found[0], nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "%d databases defined, one must be chosen", len(found))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
