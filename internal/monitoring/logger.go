// Package monitoring holds the diagnostic logger and search metrics shared by
// the storage adapters and the command line tool.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
// The search core never logs; adapters and commands do.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger,
// which is what --quiet does.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
