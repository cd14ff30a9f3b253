package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRanks(t *testing.T) {
	tests := []struct {
		name     string
		data     []float64
		expected []float64
	}{
		{name: "distinct", data: []float64{3, 1, 2}, expected: []float64{3, 1, 2}},
		{name: "ties averaged", data: []float64{5, 1, 5, 2}, expected: []float64{3.5, 1, 3.5, 2}},
		{name: "all equal", data: []float64{7, 7, 7}, expected: []float64{2, 2, 2}},
		{name: "empty", data: nil, expected: []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Ranks(tt.data))
		})
	}
}

func TestTieGroups(t *testing.T) {
	assert.Equal(t, []int{2, 3}, TieGroups([]float64{1, 1, 2, 3, 3, 3}))
	assert.Nil(t, TieGroups([]float64{1, 2, 3}))
}
