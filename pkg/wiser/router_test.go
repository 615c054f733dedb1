package wiser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	live []GroupSetEvent
	scan []GroupSetEvent
}

func newRecordingRouter(t *testing.T) (*router, *recorder) {
	r := newRouter()
	rec := &recorder{}
	require.NoError(t, r.subscribe(EventKindLive, "test", func(event GroupSetEvent) {
		rec.live = append(rec.live, event)
	}))
	require.NoError(t, r.subscribe(EventKindScan, "test", func(event GroupSetEvent) {
		rec.scan = append(rec.scan, event)
	}))
	return r, rec
}

func TestRouterSetLevel(t *testing.T) {
	r, rec := newRecordingRouter(t)

	r.OnTag(Tag{Name: "cbus_event", Attributes: map[string]string{"name": "cbusSetLevel", "group": "12", "level": "200"}})

	assert.Equal(t, []GroupSetEvent{{GroupAddress: 12, Level: 200}}, rec.live)
	assert.Empty(t, rec.scan)
}

func TestRouterGetLevel(t *testing.T) {
	r, rec := newRecordingRouter(t)

	r.OnTag(Tag{Name: "cbus_resp", Attributes: map[string]string{"command": "cbusGetLevel", "level": "0,128,255,"}})

	assert.Equal(t, []GroupSetEvent{
		{GroupAddress: 0, Level: 0},
		{GroupAddress: 1, Level: 128},
		{GroupAddress: 2, Level: 255},
	}, rec.scan)
	assert.Empty(t, rec.live)
}

func TestRouterGetLevelKeepsPositions(t *testing.T) {
	r, rec := newRecordingRouter(t)

	r.OnTag(Tag{Name: "cbus_resp", Attributes: map[string]string{"command": "cbusGetLevel", "level": "5,x,7"}})

	assert.Equal(t, []GroupSetEvent{
		{GroupAddress: 0, Level: 5},
		{GroupAddress: 2, Level: 7},
	}, rec.scan, "invalid values are skipped and the last value is kept without trailing separator")
}

func TestRouterDropsUnknownAndInvalidTags(t *testing.T) {
	r, rec := newRecordingRouter(t)

	r.OnTag(Tag{Name: "cbus_event", Attributes: map[string]string{"name": "cbusSetLevel", "group": "abc", "level": "1"}})
	r.OnTag(Tag{Name: "cbus_event", Attributes: map[string]string{"name": "cbusSetLevel", "group": "1"}})
	r.OnTag(Tag{Name: "cbus_event", Attributes: map[string]string{"name": "cbusOther", "group": "1", "level": "1"}})
	r.OnTag(Tag{Name: "cbus_resp", Attributes: map[string]string{"command": "cbusGetLevel"}})
	r.OnTag(Tag{Name: "cbus_auth_resp", Attributes: map[string]string{}})

	assert.Empty(t, rec.live)
	assert.Empty(t, rec.scan)
}

func TestRouterSubscriptions(t *testing.T) {
	r := newRouter()
	callback := func(event GroupSetEvent) {}

	assert.NoError(t, r.subscribe(EventKindLive, "a", callback))
	assert.Error(t, r.subscribe(EventKindLive, "a", callback))
	assert.NoError(t, r.subscribe(EventKindScan, "a", callback), "kinds have separate ids")

	assert.NoError(t, r.unsubscribe(EventKindLive, "a"))
	assert.Error(t, r.unsubscribe(EventKindLive, "a"))
}

func TestRouterDeliversToAllSubscribers(t *testing.T) {
	r := newRouter()
	count := 0
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.subscribe(EventKindLive, id, func(event GroupSetEvent) { count++ }))
	}

	r.OnTag(Tag{Name: "cbus_event", Attributes: map[string]string{"name": "cbusSetLevel", "group": "1", "level": "1"}})
	assert.Equal(t, 3, count)
}
