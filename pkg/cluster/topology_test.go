package cluster_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/errors"
)

const adminTools = `[Configuration]
format = 3
install_opts =

[Cluster]
hosts = 10.0.0.1,10.0.0.2,10.0.0.3

[Nodes]
node0001 = 10.0.0.1,/home/dbadmin,/home/dbadmin
v_vmart_node0001 = 10.0.0.1,/vertica/catalog,/vertica/data
v_vmart_node0002 = 10.0.0.2,/vertica/catalog,/vertica/data
v_vmart_node0003 = 10.0.0.3,/vertica/catalog,/vertica/data

[Database:VMart]
restartpolicy = ksafe
port = 5433
path = /vertica/catalog/VMart/v_vmart_node0001_catalog
nodes = v_vmart_node0001,v_vmart_node0002,v_vmart_node0003
`

func writeAdminTools(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admintools.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAdminTools(t *testing.T) {
	path := writeAdminTools(t, adminTools)

	for _, db := range []string{"VMart", ""} {
		topo, err := cluster.LoadAdminTools(path, db)
		require.NoError(t, err)
		require.Len(t, topo.Nodes, 3)
		assert.True(t, strings.EqualFold("VMart", topo.Database))

		n := topo.Nodes[1]
		assert.Equal(t, "v_vmart_node0002", n.Name)
		assert.Equal(t, "10.0.0.2", n.Host)
		assert.Equal(t, "10.0.0.2:5450", n.Address())
		assert.Equal(t, "/vertica/catalog/VMart/v_vmart_node0002_catalog", n.CatalogPath)
		assert.Equal(t, "/vertica/catalog/VMart/v_vmart_node0001_catalog", topo.CatalogPath)
		assert.Equal(t, n.CatalogPath, topo.CatalogFor(n))
	}
}

func TestLoadAdminToolsErrors(t *testing.T) {
	path := writeAdminTools(t, adminTools)
	_, err := cluster.LoadAdminTools(path, "other")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = cluster.LoadAdminTools(filepath.Join(t.TempDir(), "missing.conf"), "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	missingNode := writeAdminTools(t, "[Nodes]\n[Database:db]\nnodes = v_db_node0001\n")
	_, err = cluster.LoadAdminTools(missingNode, "db")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestTopologyValidate(t *testing.T) {
	topo := &cluster.Topology{Nodes: []cluster.Node{{Name: "a", Host: "h1"}, {Name: "b", DSN: "file:b.db"}}}
	assert.NoError(t, topo.Validate())

	topo.Nodes = append(topo.Nodes, cluster.Node{Name: "a", Host: "h2"})
	assert.Error(t, topo.Validate())
	assert.Error(t, (&cluster.Topology{}).Validate())
	assert.Error(t, (&cluster.Topology{Nodes: []cluster.Node{{Name: "x"}}}).Validate())
}
