package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jbweber/homelab/loft/internal/domain"
)

// LoadPlans reads the plan catalog. The file holds either a JSON array of
// plans or an object with a "plans" array.
func LoadPlans(path string) ([]domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates a plan catalog.
func ParsePlans(data []byte) ([]domain.Plan, error) {
	var plans []domain.Plan
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Plans []domain.Plan `json:"plans"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse plans: %w", err)
		}
		plans = wrapped.Plans
	} else if err := json.Unmarshal(trimmed, &plans); err != nil {
		return nil, fmt.Errorf("failed to parse plans: %w", err)
	}

	if len(plans) == 0 {
		return nil, errors.New("plan catalog is empty")
	}

	seen := make(map[int]bool, len(plans))
	for _, plan := range plans {
		if seen[plan.ID] {
			return nil, fmt.Errorf("duplicate plan id %d", plan.ID)
		}
		seen[plan.ID] = true

		if plan.Name == "" {
			return nil, fmt.Errorf("plan %d has no name", plan.ID)
		}
		r := plan.Resources
		if r.CPU <= 0 || r.Memory < 1024 || r.Disk <= 0 {
			return nil, fmt.Errorf("plan %d needs cpu > 0, memory >= 1024 MiB and disk > 0", plan.ID)
		}
	}
	return plans, nil
}
