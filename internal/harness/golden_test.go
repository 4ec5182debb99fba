package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/engine"
)

func TestGolden_Deterministic(t *testing.T) {
	for _, name := range []string{"simple_stay", "merge_chain", "pooled"} {
		t.Run(name, func(t *testing.T) {
			s := loadTestScenario(t, name)
			dir := t.TempDir()

			first, err := Run(s)
			require.NoError(t, err)
			data, err := Golden(s, first)
			require.NoError(t, err)
			require.NoError(t, newGoldie(t, dir).Update(t, s.Name, data))

			second, err := Run(s)
			require.NoError(t, err)
			require.NoError(t, assertGoldenIn(t, dir, s, second))
		})
	}
}

func TestGolden_Content(t *testing.T) {
	s := loadTestScenario(t, "simple_stay")
	result, err := Run(s)
	require.NoError(t, err)

	data, err := Golden(s, result)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `"scenario":"simple_stay"`)
	assert.Contains(t, out, `"reason":"event already applied"`)
	assert.Contains(t, out, `"entity_type":"location_visit"`)
	assert.NotContains(t, out, "processed_at", "processing times stay out of goldens")
	assert.NotContains(t, out, "\n")
}

func TestNewSnapshot_PooledDropsChanges(t *testing.T) {
	result := NewResult()
	result.Results = []engine.Result{{
		Seq:     0,
		Status:  engine.StatusApplied,
		Changes: []engine.Change{{EntityType: "visit", EntityKey: "ENC-1", Outcome: "created"}},
	}}

	seq := NewSnapshot(&Scenario{Name: "s"}, result)
	require.Len(t, seq.Results, 1)
	assert.Len(t, seq.Results[0].Changes, 1)

	pooled := NewSnapshot(&Scenario{Name: "s", Workers: 2}, result)
	assert.Empty(t, pooled.Results[0].Changes)
}

func TestMarshalCanonical(t *testing.T) {
	t.Run("sorted keys and dropped nulls", func(t *testing.T) {
		v := map[string]any{"b": 1, "a": "x", "c": nil, "d": []any{true}}
		data, err := marshalCanonical(v)
		require.NoError(t, err)
		assert.Equal(t, `{"a":"x","b":1,"d":[true]}`, string(data))
	})

	t.Run("floats rejected", func(t *testing.T) {
		_, err := marshalCanonical(map[string]any{"ratio": 0.5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-integer number 0.5")
	})

	t.Run("null elements rejected", func(t *testing.T) {
		_, err := marshalCanonical([]any{"a", nil})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "null element")
	})
}
