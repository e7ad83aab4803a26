package indexing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/events"
)

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func genomeEvent() events.Event {
	return events.Event{
		GroupingKey:   "WS:1/2",
		Timestamp:     time.UnixMilli(1000),
		Type:          events.TypeNewVersion,
		StorageCode:   "WS",
		AccessGroupID: 1,
		ObjectID:      "2",
		Version:       3,
		ObjectType:    "KBaseGenomes.Genome",
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "genome.yaml", `
search_type: Genome
storage_code: WS
storage_object_type: KBaseGenomes.Genome
`)
	writeRule(t, dir, "genome2.yml", `
search_type: Genome
version: 2
storage_code: WS
storage_object_type: KBaseGenomes.Genome
condition: event.version > 1
`)
	writeRule(t, dir, "features.yaml", `
search_type: GenomeFeature
storage_code: WS
storage_object_type: KBaseGenomes.Genome
condition: event.accessGroupId == 99
`)
	writeRule(t, dir, "README.md", "not a rule")

	rules, err := LoadRules(dir, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Genome", "GenomeFeature"}, rules.SearchTypes())
	require.Len(t, rules.Versions("Genome"), 2)
	assert.Equal(t, 1, rules.Versions("Genome")[0].Version)
	assert.Equal(t, filepath.Join(dir, "genome2.yml"), rules.Versions("Genome")[1].Source)

	matched, err := rules.Match(genomeEvent())
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Genome", matched[0].SearchType)
	assert.Equal(t, 2, matched[0].Version)

	ev := genomeEvent()
	ev.Version = 1
	matched, err = rules.Match(ev)
	require.NoError(t, err)
	assert.Empty(t, matched, "latest version's condition decides")

	ev = genomeEvent()
	ev.ObjectType = "KBaseFBA.FBAModel"
	matched, err = rules.Match(ev)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestLoadRules_Errors(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		errMsg string
	}{
		{
			name:   "missing field",
			files:  map[string]string{"a.yaml": "search_type: A\nstorage_code: WS\n"},
			errMsg: "StorageObjectType",
		},
		{
			name: "duplicate version",
			files: map[string]string{
				"a.yaml": "search_type: A\nstorage_code: WS\nstorage_object_type: T\n",
				"b.yaml": "search_type: A\nversion: 1\nstorage_code: WS\nstorage_object_type: T\n",
			},
			errMsg: "multiple definitions",
		},
		{
			name:   "missing version",
			files:  map[string]string{"a.yaml": "search_type: A\nversion: 2\nstorage_code: WS\nstorage_object_type: T\n"},
			errMsg: "missing versions",
		},
		{
			name:   "bad condition",
			files:  map[string]string{"a.yaml": "search_type: A\nstorage_code: WS\nstorage_object_type: T\ncondition: event.version >\n"},
			errMsg: "invalid condition",
		},
		{
			name:   "bad yaml",
			files:  map[string]string{"a.yaml": "search_type: [\n"},
			errMsg: "failed to parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeRule(t, dir, name, content)
			}
			_, err := LoadRules(dir, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := LoadRules(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)
}

func TestConditionEvaluator(t *testing.T) {
	e, err := NewConditionEvaluator(2)
	require.NoError(t, err)

	ok, err := e.Evaluate("", genomeEvent())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(`event.storageCode == "WS" && event.version == 3`, genomeEvent())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(`event.objectType.startsWith("KBaseFBA")`, genomeEvent())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.Evaluate(`event.version + 1`, genomeEvent())
	assert.ErrorContains(t, err, "must return boolean")

	_, err = e.Evaluate(`event.`, genomeEvent())
	assert.ErrorContains(t, err, "compile")

	assert.Equal(t, 2, e.CachedPrograms(), "bounded by the cache size")
}
