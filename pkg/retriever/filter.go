package retriever

import (
	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
)

// FilterCriteria selects environments by deployment type, name and ID.
// Every populated dimension must match; an empty dimension imposes no
// constraint.
type FilterCriteria struct {
	DeploymentTypes []string
	Names           []string
	IDs             []int64
}

// IsZero reports whether no dimension is constrained.
func (f FilterCriteria) IsZero() bool {
	return len(f.DeploymentTypes) == 0 && len(f.Names) == 0 && len(f.IDs) == 0
}

// FilterEnvironments returns the environments matching every populated
// dimension of the criteria. An empty result is valid output, not an
// error; callers decide how to report it.
func FilterEnvironments(envs []dbtcloud.Environment, criteria FilterCriteria) []dbtcloud.Environment {
	if criteria.IsZero() {
		return envs
	}

	// Build lookup sets for O(1) matching.
	typeSet := make(map[string]struct{}, len(criteria.DeploymentTypes))
	for _, dt := range criteria.DeploymentTypes {
		typeSet[dt] = struct{}{}
	}

	nameSet := make(map[string]struct{}, len(criteria.Names))
	for _, name := range criteria.Names {
		nameSet[name] = struct{}{}
	}

	idSet := make(map[int64]struct{}, len(criteria.IDs))
	for _, id := range criteria.IDs {
		idSet[id] = struct{}{}
	}

	filtered := make([]dbtcloud.Environment, 0, len(envs))

	for _, env := range envs {
		if len(typeSet) > 0 {
			if _, ok := typeSet[env.DeploymentType]; !ok {
				continue
			}
		}

		if len(nameSet) > 0 {
			if _, ok := nameSet[env.Name]; !ok {
				continue
			}
		}

		if len(idSet) > 0 {
			if _, ok := idSet[env.ID]; !ok {
				continue
			}
		}

		filtered = append(filtered, env)
	}

	return filtered
}
