package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/metahub/store"
)

func route(id, sourceType, sourceID string, priority int, createdAt time.Time) *store.Route {
	return &store.Route{
		ID:            id,
		WorkspaceID:   "ws1",
		SourceType:    sourceType,
		SourceID:      sourceID,
		DestinationID: "d-" + id,
		Priority:      priority,
		IsActive:      true,
		CreatedAt:     createdAt,
	}
}

func ids(routes []*store.Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.ID
	}
	return out
}

func TestMatch(t *testing.T) {
	base := time.Now()

	t.Run("exact and catch-all both match", func(t *testing.T) {
		routes := []*store.Route{
			route("exact", "whatsapp", "PN1", 50, base),
			route("catchall", "whatsapp", "", 50, base.Add(time.Second)),
			route("other-id", "whatsapp", "PN2", 90, base),
			route("other-type", "forms", "PN1", 90, base),
		}
		got := Match(routes, "whatsapp", "PN1")
		assert.Equal(t, []string{"exact", "catchall"}, ids(got))
	})

	t.Run("priority descending then creation ascending", func(t *testing.T) {
		routes := []*store.Route{
			route("low", "whatsapp", "", 10, base),
			route("high", "whatsapp", "", 90, base.Add(2*time.Second)),
			route("mid-old", "whatsapp", "", 50, base),
			route("mid-new", "whatsapp", "", 50, base.Add(time.Second)),
		}
		got := Match(routes, "whatsapp", "PN1")
		assert.Equal(t, []string{"high", "mid-old", "mid-new", "low"}, ids(got))
	})

	t.Run("inactive and soft-deleted are excluded", func(t *testing.T) {
		inactive := route("inactive", "whatsapp", "", 50, base)
		inactive.IsActive = false
		deleted := route("deleted", "whatsapp", "", 50, base)
		now := time.Now()
		deleted.DeletedAt = &now

		got := Match([]*store.Route{inactive, deleted}, "whatsapp", "PN1")
		assert.Empty(t, got)
	})

	t.Run("catch-all also matches nil source id", func(t *testing.T) {
		catchall := route("catchall", "whatsapp", "", 50, base)
		exact := route("exact", "whatsapp", "PN1", 50, base)

		got := Match([]*store.Route{catchall, exact}, "whatsapp", "")
		assert.Equal(t, []string{"catchall"}, ids(got))
	})
}
