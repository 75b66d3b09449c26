package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/appforge/pkg/models"
)

func completeInfo() models.BusinessInfo {
	return models.BusinessInfo{
		Name:        "Acme Bakery",
		Description: "Neighborhood bakery",
		Industry:    "Food & Beverage",
		SubIndustry: "Bakery",
		Address:     "1 Main St",
		ContactInfo: "acme@example.com",
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
		want     Decision
	}{
		{
			name:     "empty state routes to gatherer",
			snapshot: Snapshot{},
			want:     DecisionGather,
		},
		{
			name:     "partial business info routes to gatherer",
			snapshot: Snapshot{BusinessInfo: models.BusinessInfo{Name: "Acme"}},
			want:     DecisionGather,
		},
		{
			name:     "complete business info routes to coder",
			snapshot: Snapshot{BusinessInfo: completeInfo()},
			want:     DecisionCode,
		},
		{
			name:     "waiting pauses regardless of business info",
			snapshot: Snapshot{BusinessInfo: completeInfo(), WaitingForUserResponse: true},
			want:     DecisionPause,
		},
		{
			name:     "summary wins over waiting",
			snapshot: Snapshot{Summary: "done", WaitingForUserResponse: true},
			want:     DecisionDone,
		},
		{
			name:     "summary finishes the run",
			snapshot: Snapshot{BusinessInfo: completeInfo(), Summary: "built it"},
			want:     DecisionDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.snapshot))
		})
	}
}

func TestRouteIsPure(t *testing.T) {
	snap := Snapshot{BusinessInfo: completeInfo()}
	first := Route(snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Route(snap))
	}
}
