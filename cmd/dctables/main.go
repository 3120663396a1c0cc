package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/agent"
	"github.com/ajitpratap0/dctables/pkg/cluster/sqlexec"
	"github.com/ajitpratap0/dctables/pkg/errors"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile, logLevel string

	root := &cobra.Command{
		Use:   "dctables",
		Short: "Query data collector tables across a database cluster",
		Long: `dctables exposes the data collector tables of every node of a cluster as
SQLite virtual tables, and keeps a local cache of them up to date.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dctables v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(collectorsCommand(&configFile, &logLevel))
	root.AddCommand(queryCommand(&configFile, &logLevel))
	root.AddCommand(syncCommand(&configFile, &logLevel))
	root.AddCommand(agentCommand(&configFile, &logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func collectorsCommand(configFile, logLevel *string) *cobra.Command {
	var ddl bool
	cmd := &cobra.Command{
		Use:   "collectors",
		Short: "List the collector tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			reg, err := a.catalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ddl {
				for _, d := range reg.Definitions() {
					fmt.Fprintf(out, "%s;\n", d.CreateTableSQL("", d.Name, true))
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tREMOTE\tCOLUMNS\tPRIMARY KEY")
			for _, d := range reg.Definitions() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Name, d.RemoteName(), len(d.Columns), strings.Join(d.PrimaryKey, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&ddl, "ddl", false, "Print the cache table DDL instead")
	return cmd
}

func queryCommand(configFile, logLevel *string) *cobra.Command {
	var dbPath, file, format string
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a query against the collector tables",
		Long: `Run a query against the collector tables. The virtual tables live in the
v_internal schema; cached copies, when a database file is used, in main.

Example:
  dctables query "SELECT node_name, count(*) FROM v_internal.dc_errors GROUP BY 1"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(args, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := a.manager(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			rows, err := m.DB().QueryContext(cmd.Context(), query)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
			}
			defer rows.Close()
			return printRows(cmd.OutOrStdout(), rows, format)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database file (overrides database.path)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the query from a file, - for stdin")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

func syncCommand(configFile, logLevel *string) *cobra.Command {
	var dbPath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the collector tables into the local cache",
		Long: `Copy the collector tables into the cache tables of a database file. Without
--watch one pass is run; with it the background sync job runs until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()
			if dbPath != "" {
				a.cfg.Database.Path = dbPath
			}
			if watch {
				a.cfg.Sync.Enabled = true
			} else {
				// the pass below runs in the foreground
				a.cfg.Sync.Enabled = false
			}

			m, err := a.manager(cmd.Context(), "")
			if err != nil {
				return err
			}
			if !m.FileBacked() {
				return errors.New(errors.ErrorTypeConfig, "sync needs a database file, set database.path or --db")
			}
			if watch {
				a.log.Info("sync job running, interrupt to stop")
				<-cmd.Context().Done()
				return nil
			}

			results, err := m.Sync(cmd.Context())
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tMODE\tROWS\tWATERMARK")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Table, r.Mode, r.Rows, r.Watermark)
			}
			if ferr := tw.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database file (overrides database.path)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep syncing in the background until interrupted")
	return cmd
}

func agentCommand(configFile, logLevel *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve fetch requests for this node",
		Long: `Run the node agent: fetch requests from dctables are answered by querying
the node's database directly (agent.dialect, agent.dsn).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg.Agent
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.DSN == "" {
				return errors.New(errors.ErrorTypeConfig, "agent.dsn is required")
			}
			node := cfg.Node
			if node == "" {
				node, _ = os.Hostname()
			}

			ex, err := sqlexec.Open(cmd.Context(), node, cfg.Dialect, cfg.DSN, a.cfg.Fetch.BlockRows, a.log)
			if err != nil {
				return err
			}
			defer ex.Close()

			srv, err := agent.New(ex, cfg.Config, a.log)
			if err != nil {
				return err
			}
			a.log.Info("starting agent", zap.String("node", node), zap.String("listen", cfg.Listen))
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides agent.listen)")
	return cmd
}

func readQuery(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file) //nolint:gosec // G304: path comes from the command line
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to read query file")
		}
		return string(data), nil
	}
	return "", errors.New(errors.ErrorTypeValidation, "a query argument or --file is required")
}

// printRows writes the result set as an aligned table or as JSON lines.
func printRows(out io.Writer, rows *sql.Rows, format string) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			obj := make(map[string]any, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					obj[c] = string(b)
				} else {
					obj[c] = vals[i]
				}
			}
			if err := enc.Encode(obj); err != nil {
				return err
			}
		}
		return rows.Err()
	case "table":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
		n := 0
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			fields := make([]string, len(vals))
			for i, v := range vals {
				fields[i] = fmt.Sprint(printable(v))
			}
			fmt.Fprintln(tw, strings.Join(fields, "\t"))
			n++
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "(%d rows)\n", n)
		return err
	}
	return errors.Newf(errors.ErrorTypeValidation, "unknown format %q", format)
}

func printable(v any) any {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	}
	return v
}
