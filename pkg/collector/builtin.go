package collector

// Builtin returns the collectors available without a catalog file.
func Builtin() []*Definition {
	return []*Definition{
		{
			Name:   "vertica_log",
			Remote: "vertica_log",
			Columns: []Column{
				{Name: "time", Type: "timestamptz"},
				{Name: "node_name", Type: "varchar(128)"},
				{Name: "thread_name", Type: "varchar(128)"},
				{Name: "thread_id", Type: "varchar(64)"},
				{Name: "transaction_id", Type: "integer"},
				{Name: "component", Type: "varchar(128)"},
				{Name: "level", Type: "varchar(64)"},
				{Name: "elevel", Type: "varchar(64)"},
				{Name: "enode", Type: "varchar(128)"},
				{Name: "message", Type: "varchar(65000)"},
			},
			PrimaryKey: []string{"time", "node_name", "thread_id", "message"},
		},
		{
			Name:   "dc_requests_issued",
			Remote: "v_internal.dc_requests_issued",
			Columns: []Column{
				{Name: "time", Type: "timestamptz"},
				{Name: "node_name", Type: "varchar(128)"},
				{Name: "session_id", Type: "varchar(128)"},
				{Name: "user_id", Type: "integer"},
				{Name: "user_name", Type: "varchar(128)"},
				{Name: "transaction_id", Type: "integer"},
				{Name: "statement_id", Type: "integer"},
				{Name: "request_id", Type: "integer"},
				{Name: "request_type", Type: "varchar(128)"},
				{Name: "label", Type: "varchar(128)"},
				{Name: "client_label", Type: "varchar(64000)"},
				{Name: "search_path", Type: "varchar(64000)"},
				{Name: "query_start_epoch", Type: "integer"},
				{Name: "request", Type: "varchar(64000)"},
				{Name: "is_retry", Type: "boolean"},
			},
			PrimaryKey: []string{"time", "node_name", "session_id", "transaction_id", "statement_id", "request_id"},
		},
		{
			Name:   "dc_requests_completed",
			Remote: "v_internal.dc_requests_completed",
			Columns: []Column{
				{Name: "time", Type: "timestamptz"},
				{Name: "node_name", Type: "varchar(128)"},
				{Name: "session_id", Type: "varchar(128)"},
				{Name: "user_id", Type: "integer"},
				{Name: "user_name", Type: "varchar(128)"},
				{Name: "transaction_id", Type: "integer"},
				{Name: "statement_id", Type: "integer"},
				{Name: "request_id", Type: "integer"},
				{Name: "success", Type: "boolean"},
				{Name: "reserved_extra_memory_b", Type: "integer"},
				{Name: "processed_row_count", Type: "integer"},
				{Name: "start_time", Type: "timestamptz"},
			},
			PrimaryKey: []string{"time", "node_name", "session_id", "transaction_id", "statement_id", "request_id"},
		},
		{
			Name:   "dc_errors",
			Remote: "v_internal.dc_errors",
			Columns: []Column{
				{Name: "time", Type: "timestamptz"},
				{Name: "node_name", Type: "varchar(128)"},
				{Name: "session_id", Type: "varchar(128)"},
				{Name: "user_id", Type: "integer"},
				{Name: "user_name", Type: "varchar(128)"},
				{Name: "transaction_id", Type: "integer"},
				{Name: "statement_id", Type: "integer"},
				{Name: "request_id", Type: "integer"},
				{Name: "error_level", Type: "integer"},
				{Name: "error_code", Type: "integer"},
				{Name: "message", Type: "varchar(2048)"},
				{Name: "detail", Type: "varchar(2048)"},
				{Name: "hint", Type: "varchar(2048)"},
			},
			PrimaryKey: []string{"time", "node_name", "session_id", "transaction_id", "statement_id", "error_code"},
		},
		{
			Name:   "dc_resource_acquisitions",
			Remote: "v_internal.dc_resource_acquisitions",
			Columns: []Column{
				{Name: "time", Type: "timestamptz"},
				{Name: "node_name", Type: "varchar(128)"},
				{Name: "transaction_id", Type: "integer"},
				{Name: "statement_id", Type: "integer"},
				{Name: "request_type", Type: "varchar(128)"},
				{Name: "pool_name", Type: "varchar(128)"},
				{Name: "memory_kb", Type: "integer"},
				{Name: "filehandles", Type: "integer"},
				{Name: "threads", Type: "integer"},
				{Name: "succeeded", Type: "boolean"},
				{Name: "result", Type: "varchar(128)"},
				{Name: "start_time", Type: "timestamptz"},
			},
			PrimaryKey: []string{"time", "node_name", "transaction_id", "statement_id", "pool_name"},
		},
	}
}
