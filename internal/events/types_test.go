package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Families(t *testing.T) {
	tests := []struct {
		typ        EventType
		version    bool
		object     bool
		admissible bool
	}{
		{TypeNewVersion, true, false, true},
		{TypeDeleteAllVersions, false, true, true},
		{TypeNewAllVersions, false, true, true},
		{TypePublishAllVersions, false, true, true},
		{TypeRenameAllVersions, false, true, true},
		{TypeUndeleteAllVersions, false, true, true},
		{TypeUnpublishAllVersions, false, true, false},
		{TypeCopyAccessGroup, false, false, false},
		{TypeDeleteAccessGroup, false, false, false},
		{TypePublishAccessGroup, false, false, false},
		{TypeUnpublishAccessGroup, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.True(t, tt.typ.IsValid())
			assert.Equal(t, tt.version, tt.typ.IsVersionLevel())
			assert.Equal(t, tt.object, tt.typ.IsObjectLevel())
			assert.Equal(t, tt.admissible, tt.typ.IsAdmissible())
		})
	}
	assert.Len(t, AllTypes, len(tests))
}

func TestEventType_Invalid(t *testing.T) {
	bogus := EventType("REINDEX_EVERYTHING")
	assert.False(t, bogus.IsValid())
	assert.False(t, bogus.IsAdmissible())
	assert.False(t, bogus.IsVersionLevel())
}

func TestParseEventType(t *testing.T) {
	typ, err := ParseEventType(" new_version ")
	require.NoError(t, err)
	assert.Equal(t, TypeNewVersion, typ)

	_, err = ParseEventType("nope")
	assert.Error(t, err)
}

func TestProcessingState(t *testing.T) {
	for _, st := range []ProcessingState{StateUnprocessed, StateReady, StateProcessing} {
		assert.True(t, st.IsValid())
		assert.False(t, st.IsTerminal())
	}
	for _, st := range []ProcessingState{StateIndexed, StateUnindexed, StateFailed} {
		assert.True(t, st.IsValid())
		assert.True(t, st.IsTerminal())
	}
	assert.False(t, ProcessingState("DONE").IsValid())

	st, err := ParseProcessingState("proc")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, st)
	_, err = ParseProcessingState("")
	assert.Error(t, err)
}

func TestEvent_Validate(t *testing.T) {
	ok := Event{GroupingKey: "ws:1/2", Timestamp: time.Unix(10, 0), Type: TypeNewVersion}
	assert.NoError(t, ok.Validate())

	noKey := ok
	noKey.GroupingKey = "  "
	assert.Error(t, noKey.Validate())

	noTime := ok
	noTime.Timestamp = time.Time{}
	assert.Error(t, noTime.Validate())

	badType := ok
	badType.Type = "X"
	assert.Error(t, badType.Validate())
}

func TestStoredEvent_String(t *testing.T) {
	se := StoredEvent{
		Event: Event{GroupingKey: "k", Timestamp: time.Unix(0, 0).UTC(), Type: TypeNewVersion},
		ID:    "id1",
		State: StateReady,
	}
	s := se.String()
	assert.Contains(t, s, "id=id1")
	assert.Contains(t, s, "state=READY")
	assert.Contains(t, s, "type=NEW_VERSION")
}
