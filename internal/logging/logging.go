// Package logging builds the *zap.Logger overseerd's components are
// constructed with, one zap.Logger.Named child per component.
package logging

import "go.uber.org/zap"

// New builds a production zap.Logger, or a development logger with
// human-readable console output when debug is true.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
