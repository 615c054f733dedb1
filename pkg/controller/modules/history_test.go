package modules

import (
	"testing"
	"time"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryDisabled(t *testing.T) {
	wiserClient := newFakeWiserClient()
	module := NewHistoryModule(newFakeMqttClient(), wiserClient, newTestRegistry(t, wiserClient), &config.Config{})

	require.NoError(t, module.Start())
	assert.Empty(t, wiserClient.liveCallbacks)
	assert.Empty(t, wiserClient.scanCallbacks)
	require.NoError(t, module.Stop())
}

func TestHistoryPoints(t *testing.T) {
	wiserClient := newFakeWiserClient()
	module := NewHistoryModule(newFakeMqttClient(), wiserClient, newTestRegistry(t, wiserClient), &config.Config{}).(*HistoryModule)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	points := module.points(wiser.GroupSetEvent{GroupAddress: 1, Level: 128}, at)
	require.Len(t, points, 2)

	point := points[0]
	assert.Equal(t, "group_level", point.Name())
	assert.Equal(t, at, point.Time())
	tags := map[string]string{}
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"network": "254", "group": "1", "name": "Living Light"}, tags)
	require.Len(t, point.FieldList(), 1)
	assert.Equal(t, "level", point.FieldList()[0].Key)
	assert.EqualValues(t, 128, point.FieldList()[0].Value)

	assert.Empty(t, module.points(wiser.GroupSetEvent{GroupAddress: 99, Level: 1}, at))
}
