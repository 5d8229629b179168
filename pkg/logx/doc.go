// Package logx is the bridge's thin structured-logging layer over zerolog.
//
// A Service owns the sinks (human-readable console, JSON file) and can swap
// level and outputs at runtime; Loggers derived from it follow the swap.
// All output is operator-facing; subscriber-visible text never goes through
// this package.
package logx
