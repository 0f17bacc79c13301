package jobcontext

import (
	"testing"

	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		dst      types.Context
		fragment types.Context
		expected types.Context
	}{
		{
			name:     "disjoint keys both survive",
			dst:      types.Context{"a": 1},
			fragment: types.Context{"b": 2},
			expected: types.Context{"a": 1, "b": 2},
		},
		{
			name:     "overlapping key: later writer wins",
			dst:      types.Context{"a": 1},
			fragment: types.Context{"a": 2},
			expected: types.Context{"a": 2},
		},
		{
			name: "instances key unions instead of overwriting",
			dst: types.Context{
				"instances": map[string]interface{}{"i1": "RUNNING"},
			},
			fragment: types.Context{
				"instances": map[string]interface{}{"i2": "RUNNING"},
			},
			expected: types.Context{
				"instances": map[string]interface{}{
					"i1": "RUNNING",
					"i2": "RUNNING",
				},
			},
		},
		{
			name:     "nil dst initializes",
			dst:      nil,
			fragment: types.Context{"a": 1},
			expected: types.Context{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Merge(tt.dst, tt.fragment)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMergeCommutativeOnDisjointKeys(t *testing.T) {
	a := types.Context{"x": 1}
	b := types.Context{"y": 2}

	first := Merge(types.Context{}, a)
	first = Merge(first, b)

	second := Merge(types.Context{}, b)
	second = Merge(second, a)

	assert.Equal(t, first, second)
}
