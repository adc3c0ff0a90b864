package sig

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/observability/metrics"
)

// Interpreter is the natural-language fallback. Implementations submit
// the raw directive text to an external service and return a structured
// reading. Kept behind an interface so tests can substitute a
// deterministic stub.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (*Directive, error)
}

// Parser converts sig text into a Directive: rule path first, fallback
// second. A nil interpreter disables the fallback entirely.
type Parser struct {
	interpreter Interpreter
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewParser creates a parser. interpreter may be nil when the fallback
// feature flag is off.
func NewParser(interpreter Interpreter, m *metrics.Metrics, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{interpreter: interpreter, metrics: m, logger: logger}
}

// Parse returns the structured reading of text, or ErrUnparsed when
// both paths fail.
func (p *Parser) Parse(ctx context.Context, text string) (*Directive, error) {
	canon := Canonicalize(text)

	if d, ok := matchRules(canon); ok {
		return d, nil
	}

	if p.interpreter == nil {
		return nil, ErrUnparsed
	}

	d, err := p.interpreter.Interpret(ctx, text)
	if err != nil {
		p.metrics.Fallback("error")
		p.logger.Warn("fallback interpretation failed",
			zap.String("sig", text), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnparsed, err)
	}
	if err := validate(d); err != nil {
		p.metrics.Fallback("invalid")
		p.logger.Warn("fallback returned unusable directive",
			zap.String("sig", text), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnparsed, err)
	}

	p.metrics.Fallback("ok")
	d.Method = MethodAI
	return d, nil
}

func validate(d *Directive) error {
	if d == nil {
		return fmt.Errorf("nil directive")
	}
	if d.Unit == "" {
		return fmt.Errorf("missing unit")
	}
	if !d.DosePerAdmin.IsPositive() || !d.AdminsPerDay.IsPositive() {
		return fmt.Errorf("non-positive dose or frequency")
	}
	if d.PerDay.IsZero() {
		d.PerDay = d.DosePerAdmin.Mul(d.AdminsPerDay)
	}
	return nil
}
