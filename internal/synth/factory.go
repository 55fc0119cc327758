package synth

import (
	"fmt"

	"github.com/kiranshivaraju/audiobooker/internal/config"
	"github.com/kiranshivaraju/audiobooker/internal/synth/httpmodel"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// NewModel constructs the speech model backend named by cfg. The "none" provider
// yields a nil model, which the Adapter treats as permanently unavailable.
// Called once at server startup.
func NewModel(cfg config.ModelConfig) (models.SpeechModel, error) {
	switch cfg.Provider {
	case config.ModelProviderNone:
		return nil, nil
	case config.ModelProviderHTTP:
		return httpmodel.New(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q: must be one of none, http", cfg.Provider)
	}
}
