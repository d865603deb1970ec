package retriever_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/retriever"
)

func TestFilterCriteria_IsZero(t *testing.T) {
	assert.True(t, retriever.FilterCriteria{}.IsZero())
	assert.False(t, retriever.FilterCriteria{Names: []string{"Production"}}.IsZero())
	assert.False(t, retriever.FilterCriteria{IDs: []int64{1}}.IsZero())
	assert.False(t, retriever.FilterCriteria{DeploymentTypes: []string{"production"}}.IsZero())
}

func TestFilterEnvironments(t *testing.T) {
	envs := []dbtcloud.Environment{
		{ID: 11, Name: "Production", DeploymentType: "production"},
		{ID: 12, Name: "Staging", DeploymentType: "staging"},
		{ID: 13, Name: "Development", DeploymentType: "development"},
		{ID: 14, Name: "Production EU", DeploymentType: "production"},
	}

	tests := []struct {
		name     string
		criteria retriever.FilterCriteria
		wantIDs  []int64
	}{
		{
			name:     "no criteria selects all",
			criteria: retriever.FilterCriteria{},
			wantIDs:  []int64{11, 12, 13, 14},
		},
		{
			name: "deployment type",
			criteria: retriever.FilterCriteria{
				DeploymentTypes: []string{"production"},
			},
			wantIDs: []int64{11, 14},
		},
		{
			name: "name",
			criteria: retriever.FilterCriteria{
				Names: []string{"Staging"},
			},
			wantIDs: []int64{12},
		},
		{
			name: "id",
			criteria: retriever.FilterCriteria{
				IDs: []int64{13},
			},
			wantIDs: []int64{13},
		},
		{
			name: "multiple values within a dimension",
			criteria: retriever.FilterCriteria{
				Names: []string{"Production", "Staging"},
			},
			wantIDs: []int64{11, 12},
		},
		{
			name: "dimensions combine as AND",
			criteria: retriever.FilterCriteria{
				DeploymentTypes: []string{"production"},
				Names:           []string{"Production EU"},
			},
			wantIDs: []int64{14},
		},
		{
			name: "conflicting dimensions select nothing",
			criteria: retriever.FilterCriteria{
				DeploymentTypes: []string{"staging"},
				IDs:             []int64{11},
			},
			wantIDs: []int64{},
		},
		{
			name: "unknown name selects nothing",
			criteria: retriever.FilterCriteria{
				Names: []string{"QA"},
			},
			wantIDs: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retriever.FilterEnvironments(envs, tt.criteria)

			gotIDs := make([]int64, 0, len(got))
			for _, env := range got {
				gotIDs = append(gotIDs, env.ID)
			}

			assert.Equal(t, tt.wantIDs, gotIDs)
		})
	}
}

func TestFilterEnvironments_EmptyInput(t *testing.T) {
	got := retriever.FilterEnvironments(nil, retriever.FilterCriteria{
		Names: []string{"Production"},
	})
	assert.Empty(t, got)
}
