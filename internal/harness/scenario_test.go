package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	data := []byte(`
name: basic
description: "one evolve"
declare:
  - owner: ORION
    name: origin
    value: "Genesis10000+"
steps:
  - op: evolve
    entity: e1
    metric: 0.5
    payload: { a: 1 }
    expect: { seq: 0 }
assertions:
  - type: history_length
    entity: e1
    count: 1
`)
	s, err := ParseScenario(data)
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	require.Len(t, s.Declare, 1)
	assert.Equal(t, "Genesis10000+", s.Declare[0].Value)
	require.Len(t, s.Steps, 1)
	require.NotNil(t, s.Steps[0].Metric)
	assert.Equal(t, 0.5, *s.Steps[0].Metric)
	assert.Equal(t, map[string]any{"a": 1}, s.Steps[0].Payload)
	require.NotNil(t, s.Steps[0].Expect)
	require.NotNil(t, s.Steps[0].Expect.Seq)
	assert.Equal(t, int64(0), *s.Steps[0].Expect.Seq)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertHistoryLength, s.Assertions[0].Type)
}

func TestParseScenario_UnknownField(t *testing.T) {
	data := []byte(`
name: typo
description: "misspelled key"
steps:
  - op: evolve
    entity: e1
    metrc: 0.5
`)
	_, err := ParseScenario(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrc")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - op: reload\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - op: reload\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown op",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: rewind\n",
			want: `unknown op "rewind"`,
		},
		{
			name: "missing op",
			yaml: "name: n\ndescription: d\nsteps:\n  - entity: e\n",
			want: "op is required",
		},
		{
			name: "evolve without metric",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: evolve\n    entity: e\n",
			want: "metric is required for evolve",
		},
		{
			name: "declare without value",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: declare\n    owner: O\n    name: x\n",
			want: "value is required for declare",
		},
		{
			name: "open_typed without owner",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: open_typed\n    entity: e\n",
			want: "owner and entity are required",
		},
		{
			name: "tamper unknown field",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: tamper\n    entity: e\n    field: timestamp\n",
			want: `unknown tamper field "timestamp"`,
		},
		{
			name: "metric tamper without metric",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: tamper\n    entity: e\n    field: metric\n",
			want: "metric is required to tamper",
		},
		{
			name: "setup declaration without name",
			yaml: "name: n\ndescription: d\ndeclare:\n  - owner: O\n    value: 1\nsteps:\n  - op: reload\n",
			want: "declare[0]: owner and name are required",
		},
		{
			name: "head assertion without digest",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: reload\nassertions:\n  - type: head\n    entity: e\n",
			want: "entity and digest are required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: reload\nassertions:\n  - type: vibes\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "negative count",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: reload\nassertions:\n  - type: entities\n    count: -1\n",
			want: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadScenario_AllTestdataParse(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}
