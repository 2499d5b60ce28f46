// Package cmd implements the command-line interface of kvbind. It provides
// a hierarchical command structure with operations for running a server and
// for talking to it through the binding.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, incr, observe, perf, etc.)
//   - http: Requests against the view and management api
//   - serve: Commands for starting and configuring the kvbind server
//   - util: Shared utilities for flags, configuration and sessions (internal use)
//
// Every flag can also be set with an environment variable KVBIND_<FLAG>,
// e.g. KVBIND_TRANSPORT_ENDPOINTS. Variables are read from .env and
// .env.local as well.
//
// See kvbind -help for a list of all commands.
package cmd
