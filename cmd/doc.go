// Package cmd provides the command-line interface for kubecontexts.
//
// Subcommands:
//   - serve: runs the sync engine and its HTTP API (default when no subcommand is given)
//   - status: probes every context once and prints a table
//   - version: prints the application version
//   - self-update: replaces the binary with the latest GitHub release
//
// Usage:
//
//	kubecontexts [flags]
//	kubecontexts serve --kubeconfig ~/.kube/config --http-addr :8080
//	kubecontexts status --fail-on-unreachable
//	kubecontexts version
//	kubecontexts self-update
//
// Settings resolve from an optional --config YAML file, then KUBECONTEXTS_*
// environment variables, then flags. KUBECONTEXTS_HTTP_ADDR overrides the
// file's http-addr and is overridden by --http-addr.
package cmd
