package wiser

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAuthKey = "abc123"

const testProject = `<?xml version="1.0" encoding="UTF-8"?>
<Project>
  <Widgets>
    <widget type="1">
      <params app="56" ga="1" label="Living Light" network="254" ramprate="4"/>
    </widget>
    <widget type="0">
      <params app="56" ga="2" label="Porch Switch" network="254"/>
    </widget>
    <widget type="10">
      <params app="56" ga="3" label="Bedroom Blind" network="254"/>
    </widget>
    <widget type="25">
      <params app="56" ga="4" label="Bedroom Fan" network="254"/>
    </widget>
    <widget type="25">
      <params app="56" ga="5" label="Study Fan" network="254" speeds="30|10|90|abc|20"/>
    </widget>
    <widget type="1">
      <params app="56" ga="6" label="Kitchen Fan" network="254"/>
    </widget>
    <widget type="1">
      <params app="56" label="No Address" network="254"/>
    </widget>
    <widget type="1">
      <params ga="7" label="No App" network="254"/>
    </widget>
    <widget type="1">
      <params app="56" ga="8" network="254"/>
    </widget>
    <widget type="1">
      <params app="56" ga="9" label="No Network"/>
    </widget>
    <widget type="1"/>
    <widget type="1">
      <params app="56" ga="1" label="Other Network Light" network="253"/>
    </widget>
  </Widgets>
</Project>`

// testHub serves the HTTP resources of a hub. The first projectFailures
// project requests fail.
type testHub struct {
	server          *httptest.Server
	authRequests    atomic.Int32
	authBody        string
	authStatus      int
	projectRequests atomic.Int32
	projectFailures atomic.Int32
}

func newTestHub(t *testing.T) *testHub {
	hub := &testHub{
		authBody:   `<cbus_auth_data value="` + testAuthKey + `"/>`,
		authStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/clipsal/resources/projectorkey.xml", func(w http.ResponseWriter, r *http.Request) {
		hub.authRequests.Add(1)
		user, password, ok := r.BasicAuth()
		if !ok || user != "admin" || password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(hub.authStatus)
		w.Write([]byte(hub.authBody))
	})
	mux.HandleFunc("/clipsal/resources/project.xml", func(w http.ResponseWriter, r *http.Request) {
		hub.projectRequests.Add(1)
		if hub.projectFailures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(testProject))
	})
	hub.server = httptest.NewServer(mux)
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *testHub) options(t *testing.T) *ClientOptions {
	u, err := url.Parse(h.server.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	httpPort, err := strconv.Atoi(port)
	require.NoError(t, err)

	return NewClientOptions().
		SetHost(host).
		SetHttpPort(httpPort).
		SetScheme("http").
		SetUsername("admin").
		SetPassword("secret")
}

// pipeDialer hands the client side of a net.Pipe to the client and publishes
// the hub side on conns. The first failures dials fail.
type pipeDialer struct {
	mutex    sync.Mutex
	failures int
	conns    chan net.Conn
}

func newPipeDialer(failures int) *pipeDialer {
	return &pipeDialer{
		failures: failures,
		conns:    make(chan net.Conn, 16),
	}
}

func (d *pipeDialer) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	d.mutex.Lock()
	if d.failures > 0 {
		d.failures--
		d.mutex.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mutex.Unlock()

	clientSide, hubSide := net.Pipe()
	select {
	case d.conns <- hubSide:
		return clientSide, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
