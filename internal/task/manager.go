// internal/task/manager.go
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager loads and validates trade plans.
type Manager struct {
	logger *zap.Logger
}

// NewManager constructs a Manager with the given logger.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger.Named("task_manager")}
}

// LoadPlan reads a plan from a YAML or JSON file. Market specs must all be
// valid since tasks depend on them; individual tasks that fail validation
// are skipped with a warning so one bad row does not sink the whole replay.
func (m *Manager) LoadPlan(path string) (*Plan, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	symbols := make(map[string]struct{}, len(plan.Markets))
	for _, spec := range plan.Markets {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := symbols[spec.Symbol]; dup {
			return nil, fmt.Errorf("duplicate market symbol %q", spec.Symbol)
		}
		symbols[spec.Symbol] = struct{}{}
	}

	valid := make([]*Task, 0, len(plan.Tasks))
	for i, t := range plan.Tasks {
		t.ID = i
		t.CreatedAt = time.Now()

		if err := t.Validate(); err != nil {
			m.logger.Warn("Skipping invalid task",
				zap.String("task_name", t.TaskName),
				zap.Int("id", t.ID),
				zap.Error(err))
			continue
		}
		// A task may reference a plan market by symbol or an existing
		// market by address.
		if _, known := symbols[t.Market]; !known && !common.IsHexAddress(t.Market) {
			m.logger.Warn("Skipping task for unknown market",
				zap.String("task_name", t.TaskName),
				zap.String("market", t.Market))
			continue
		}
		valid = append(valid, t)
	}

	if len(plan.Markets) == 0 && len(valid) == 0 {
		return nil, fmt.Errorf("plan defines no markets and no valid tasks")
	}
	plan.Tasks = valid

	m.logger.Info("Loaded trade plan",
		zap.Int("markets", len(plan.Markets)),
		zap.Int("tasks", len(valid)))
	return &plan, nil
}
