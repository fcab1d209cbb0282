package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a human-readable development logger in debug mode and a JSON
// production logger otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.NewProduction(zap.AddStacktrace(zapcore.ErrorLevel), zap.AddCaller())
}
