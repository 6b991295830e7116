// Package logx is potamesh's logging layer: zerolog underneath, a console
// writer for humans, JSON for the log file, and a Service whose level and
// sinks can be swapped on config reload without rebuilding component loggers.
package logx
