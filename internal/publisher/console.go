// Package publisher emits connection lifecycle transitions for
// observability.
package publisher

import (
	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/lifecycle"
)

// Console logs every transition through zap. It is the default
// publisher; a future implementation could fan transitions out to an
// external consumer instead.
type Console struct {
	logger *zap.Logger
}

// NewConsole creates a console publisher.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

// PublishTransition logs a phase transition with structured fields.
func (p *Console) PublishTransition(t lifecycle.Transition) {
	p.logger.Info("connection transition",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.String("reason", t.Reason),
		zap.Time("at", t.At))
}
