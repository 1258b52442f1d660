// Package logging builds the slog loggers used by the command binaries from
// the logging section of the configuration.
package logging
