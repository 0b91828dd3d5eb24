// Package logx wraps zerolog behind a small, hot-reloadable logging API.
//
// Components receive a Logger value; the Service owning the sinks can swap
// levels and outputs at runtime without invalidating held loggers.
package logx
