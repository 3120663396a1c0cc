// Package dctables exposes the data collector tables of every node of a
// database cluster as SQLite virtual tables, and keeps a local cache of
// them for cheap repeated queries.
//
// # Architecture
//
// A query against v_internal.<table> is planned by SQLite with the help of
// the planner package, which pushes time and node predicates down to the
// nodes. The cluster package fans the request out to every node, through
// the node agent over HTTP or straight to each node's database over SQL,
// and streams back blocks of rows in the wire format. The wire package
// decodes them into typed values that the cursor hands to SQLite.
//
// When the database is a file, the sync job copies every collector table
// into a cache table in main: a full bootstrap first, then incremental
// passes that pull rows newer than the per-node watermark and merge them
// with an anti-join. Passes only run while no user query has touched the
// database for the configured idle window.
//
// # Key Packages
//
//   - pkg/vtab: SQLite module, virtual tables and cursors
//   - pkg/planner: index selection and predicate encoding
//   - pkg/cluster: topology, fan-out fetch and node executors
//   - pkg/wire: block format, parsing and type coercion
//   - pkg/syncjob: bootstrap and incremental cache sync
//   - pkg/collector: collector table catalog and DDL
//   - pkg/agent: the per-node fetch server
//   - pkg/config: configuration loading and validation
//
// # Quick Start
//
//	dctables collectors
//	dctables query "SELECT node_name, count(*) FROM v_internal.dc_errors GROUP BY 1"
//	dctables sync --db /var/lib/dctables/cache.db --watch
//
// The virtual tables need the sqlite_vtable build tag:
//
//	go build -tags sqlite_vtable ./cmd/dctables
//
// # Configuration
//
// Configuration comes from a YAML file, with ${VAR} substitution, and from
// DCTABLES_* environment variables:
//
//	cluster:
//	  admintools: /opt/vertica/config/admintools.conf
//	  database: VMart
//	fetch:
//	  timeout: 5m
//	sync:
//	  idle_window: 30s
package dctables
