package debug

import (
	"net/http"
	"time"

	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventsBufferSize   = 256
	eventsWriteTimeout = 5 * time.Second
)

// groupEvent is the JSON message sent for each level received from the hub.
type groupEvent struct {
	Kind  wiser.EventKind `json:"kind"`
	Group int             `json:"group"`
	Level int             `json:"level"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// events streams the live and scanned group levels to a websocket client
// until it disconnects.
func events(wiserClient wiser.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Error upgrading events connection")
			return
		}
		defer conn.Close()

		id := "events-" + uuid.New().String()
		send := make(chan groupEvent, eventsBufferSize)
		forward := func(kind wiser.EventKind) wiser.GroupSetCallback {
			return func(event wiser.GroupSetEvent) {
				select {
				case send <- groupEvent{Kind: kind, Group: event.GroupAddress, Level: event.Level}:
				default:
					log.Warn().Str("id", id).Msg("Events client too slow, dropping event")
				}
			}
		}

		if err := wiserClient.GroupSetSubscribe(id, forward(wiser.EventKindLive)); err != nil {
			log.Error().Err(err).Msg("Error subscribing to group events")
			return
		}
		defer unsubscribe(id, wiserClient.GroupSetUnsubscribe)
		if err := wiserClient.GroupScanSubscribe(id, forward(wiser.EventKindScan)); err != nil {
			log.Error().Err(err).Msg("Error subscribing to group scan")
			return
		}
		defer unsubscribe(id, wiserClient.GroupScanUnsubscribe)
		log.Debug().Str("id", id).Msg("Events client connected")

		// Nothing is expected from the client, reading detects the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				log.Debug().Str("id", id).Msg("Events client disconnected")
				return
			case event := <-send:
				conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
				if err := conn.WriteJSON(event); err != nil {
					log.Debug().Err(err).Str("id", id).Msg("Error writing event")
					return
				}
			}
		}
	}
}

func unsubscribe(id string, unsubscribeFunc func(string) error) {
	if err := unsubscribeFunc(id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Error unsubscribing events client")
	}
}
