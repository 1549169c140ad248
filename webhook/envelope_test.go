package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func change(t *testing.T, field string, value string) Change {
	t.Helper()
	return Change{Field: field, Value: json.RawMessage(value)}
}

func TestClassifyWhatsApp(t *testing.T) {
	t.Run("message notification", func(t *testing.T) {
		ch := change(t, "messages", `{
			"metadata": {"phone_number_id": "PN1"},
			"messages": [{"id": "wamid.ABC", "from": "15551234567", "text": {"body": "hi"}}]
		}`)
		ev, err := Classify(ObjectWhatsApp, ch)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, SourceWhatsApp, ev.SourceType)
		assert.Equal(t, "PN1", ev.SourceID)
		assert.Equal(t, "messages", ev.EventType)
		assert.Equal(t, "wamid.ABC", ev.SourceEventID)
	})

	t.Run("status notification", func(t *testing.T) {
		ch := change(t, "messages", `{
			"metadata": {"phone_number_id": "PN1"},
			"statuses": [{"id": "wamid.XYZ", "status": "read"}]
		}`)
		ev, err := Classify(ObjectWhatsApp, ch)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, "status_read", ev.EventType)
		assert.Equal(t, "wamid.XYZ", ev.SourceEventID)
	})

	t.Run("missing phone number id is ignored", func(t *testing.T) {
		ch := change(t, "messages", `{"messages": [{"id": "wamid.ABC"}]}`)
		ev, err := Classify(ObjectWhatsApp, ch)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("unknown shape falls back to field name", func(t *testing.T) {
		ch := change(t, "account_update", `{"metadata": {"phone_number_id": "PN1"}}`)
		ev, err := Classify(ObjectWhatsApp, ch)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, "account_update", ev.EventType)
	})
}

func TestClassifyLeadgen(t *testing.T) {
	t.Run("leadgen change", func(t *testing.T) {
		ch := change(t, "leadgen", `{"form_id": "F1", "leadgen_id": "L1", "page_id": "P1"}`)
		ev, err := Classify(ObjectPage, ch)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, SourceForms, ev.SourceType)
		assert.Equal(t, "F1", ev.SourceID)
		assert.Equal(t, "leadgen", ev.EventType)
		assert.Equal(t, "L1", ev.SourceEventID)
	})

	t.Run("non-leadgen page field is ignored", func(t *testing.T) {
		ch := change(t, "feed", `{"post_id": "123"}`)
		ev, err := Classify(ObjectPage, ch)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("missing form id is ignored", func(t *testing.T) {
		ch := change(t, "leadgen", `{"leadgen_id": "L1"}`)
		ev, err := Classify(ObjectPage, ch)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
}

func TestClassifyUnknownObject(t *testing.T) {
	ch := change(t, "anything", `{"a": 1}`)
	ev, err := Classify("instagram", ch)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestClassifyMalformedValue(t *testing.T) {
	ch := change(t, "messages", `[1,2,3]`)
	_, err := Classify(ObjectWhatsApp, ch)
	assert.Error(t, err)
}
