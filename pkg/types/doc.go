// Package types defines the Remote and Backend interfaces, table and field
// names, configuration, and standard error types shared by the sync layer,
// the SQLite backend and the tsubone CLI.
package types
