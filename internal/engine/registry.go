package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// SetFeatureWeight creates or overwrites a model feature and enables it.
func (e *Engine) SetFeatureWeight(ctx context.Context, caller domain.Caller, featureID string, weight uint64, featureName string) (*domain.ModelWeight, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	switch {
	case featureID == "":
		return nil, fmt.Errorf("%w: featureId is required", domain.ErrInvalidInput)
	case weight > domain.MaxScore:
		return nil, fmt.Errorf("%w: weight %d exceeds %d", domain.ErrInvalidInput, weight, domain.MaxScore)
	case len(featureName) > domain.MaxFeatureNameLen:
		return nil, fmt.Errorf("%w: featureName longer than %d", domain.ErrInvalidInput, domain.MaxFeatureNameLen)
	}

	w := &domain.ModelWeight{
		FeatureID:   featureID,
		FeatureName: featureName,
		Weight:      uint8(weight),
		Enabled:     true,
		UpdatedAt:   time.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.repo.SaveModelWeight(ctx, w); err != nil {
		return nil, err
	}

	slog.Info("model weight set", "feature_id", featureID, "weight", weight, "caller_id", caller.ID)
	return w, nil
}

// GetFeatureWeight returns one model feature.
func (e *Engine) GetFeatureWeight(ctx context.Context, featureID string) (*domain.ModelWeight, error) {
	w, err := e.repo.GetModelWeight(ctx, featureID)
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", featureID, err)
	}
	return w, nil
}

// ListFeatureWeights returns every model feature.
func (e *Engine) ListFeatureWeights(ctx context.Context) ([]*domain.ModelWeight, error) {
	return e.repo.ListModelWeights(ctx)
}
