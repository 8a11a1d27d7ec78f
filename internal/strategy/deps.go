package strategy

import (
	"log/slog"
	"net/http"

	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/security"
)

// Dependencies bundles the shared collaborators built-in strategies need.
type Dependencies struct {
	Evaluator    *expression.Evaluator
	URLValidator *security.URLValidator
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// DefaultDependencies constructs Dependencies with production defaults.
func DefaultDependencies(logger *slog.Logger) Dependencies {
	return Dependencies{
		Evaluator:    expression.NewEvaluator(),
		URLValidator: security.NewURLValidator(),
		HTTPClient:   &http.Client{},
		Logger:       logger,
	}
}
