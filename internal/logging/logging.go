package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development gets the human-readable
// console encoder, everything else the production JSON encoder.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
