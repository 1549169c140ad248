package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	doc, err := DecodeObject([]byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "123",
			"changes": [{
				"value": {"metadata": {"phone_number_id": "PN1"}, "count": 2},
				"field": "messages"
			}]
		}]
	}`))
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want any
		ok   bool
	}{
		{"top-level key", "object", "whatsapp_business_account", true},
		{"nested with indices", "entry[0].changes[0].value.metadata.phone_number_id", "PN1", true},
		{"number value", "entry[0].changes[0].value.count", float64(2), true},
		{"missing key", "entry[0].missing", nil, false},
		{"index out of bounds", "entry[5].id", nil, false},
		{"index into object", "object[0]", nil, false},
		{"malformed path", "entry[x].id", nil, false},
		{"empty path", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(doc, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	t.Run("creates intermediate objects", func(t *testing.T) {
		doc := Document{}
		require.NoError(t, Write(doc, "contact.phone.mobile", "+123"))
		got, ok := Resolve(doc, "contact.phone.mobile")
		require.True(t, ok)
		assert.Equal(t, "+123", got)
	})

	t.Run("overwrites existing scalar", func(t *testing.T) {
		doc := Document{"contact": "bare"}
		require.NoError(t, Write(doc, "contact.name", "Ada"))
		got, ok := Resolve(doc, "contact.name")
		require.True(t, ok)
		assert.Equal(t, "Ada", got)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		assert.Error(t, Write(Document{}, "", 1))
	})
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "4.5", Stringify(4.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(Document{"a": float64(1)}))
	assert.Equal(t, `[1,2]`, Stringify([]any{float64(1), float64(2)}))
}

func TestDeepCopy(t *testing.T) {
	orig := Document{"a": Document{"b": []any{float64(1)}}}
	cp := DeepCopy(orig).(Document)

	require.NoError(t, Write(cp, "a.b", "changed"))
	got, ok := Resolve(orig, "a.b[0]")
	require.True(t, ok)
	assert.Equal(t, float64(1), got, "copy must not alias the original")
}
