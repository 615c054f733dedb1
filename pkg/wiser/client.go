package wiser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is the interface definition as used by this library, the
// interface is primarily to allow mocking tests.
type Client interface {
	// Connect starts the connection loop in the background and returns
	// immediately. The loop fetches an auth key and the project, opens the
	// control connection, authenticates and requests the level of all the
	// groups. On any failure it waits for the backoff delay and starts over,
	// until Disconnect is called.
	Connect() error
	// Disconnect stops the connection loop, closes the control connection and
	// cancels any pending retry.
	Disconnect() error

	// SetGroupLevel sets the level of a group. The command is dropped without
	// error when not connected.
	SetGroupLevel(address AccessoryAddress, level int, ramp int) error
	// GetAllLevels requests the level of all the groups. The levels are
	// delivered to the GroupScan subscribers.
	GetAllLevels() error
	// Send writes a raw command on the control connection. The command is
	// dropped without error when not connected.
	Send(command string) error

	// GroupSetSubscribe registers a callback for the level changes pushed by
	// the hub.
	GroupSetSubscribe(id string, callback GroupSetCallback) error
	GroupSetUnsubscribe(id string) error
	// GroupScanSubscribe registers a callback for the levels read by the scan
	// done after each connection.
	GroupScanSubscribe(id string, callback GroupSetCallback) error
	GroupScanUnsubscribe(id string) error
	// ProjectSubscribe registers a callback for the project fetched before
	// each connection. The callback runs before the control connection is
	// opened, so the groups are known when the first levels arrive.
	ProjectSubscribe(id string, callback ProjectCallback) error
	ProjectUnsubscribe(id string) error
	// StateSubscribe registers a callback for the connection state changes.
	StateSubscribe(id string, callback StateCallback) error
	StateUnsubscribe(id string) error

	State() State
	IsConnected() bool
}

const projectFetchTimeout = 30 * time.Second

// Dialer opens the control connection. net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network string, address string) (net.Conn, error)
}

// client implements the Client interface.
// Clients are safe for concurrent use by multiple goroutines.
type client struct {
	options    ClientOptions
	httpClient *http.Client
	dialer     Dialer
	after      func(time.Duration) <-chan time.Time

	state          atomic.Uint32
	stateCallbacks map[string]StateCallback
	stateMutex     sync.RWMutex

	projectCallbacks map[string]ProjectCallback
	projectMutex     sync.RWMutex

	router *router

	// connMutex protects the session and serializes the writes on the
	// connection. conn is only set while a connection is open.
	connMutex sync.Mutex
	conn      net.Conn
	authKey   string

	// Only used from the connection loop.
	backoff *backoff

	runMutex sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewClient will create a Wiser client with all the options specified in the
// provided ClientOptions. The client must have the Connect() method called on
// it before commands can be sent.
func NewClient(options *ClientOptions) Client {
	return newClient(options, &net.Dialer{}, time.After)
}

func newClient(options *ClientOptions, dialer Dialer, after func(time.Duration) <-chan time.Time) *client {
	opts := *options
	defaults := NewClientOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.InitialRetryDelay <= 0 {
		opts.InitialRetryDelay = defaults.InitialRetryDelay
	}
	return &client{
		options:          opts,
		httpClient:       newHttpClient(),
		dialer:           dialer,
		after:            after,
		stateCallbacks:   map[string]StateCallback{},
		projectCallbacks: map[string]ProjectCallback{},
		router:           newRouter(),
		backoff:          newBackoff(opts.InitialRetryDelay, opts.MaxRetryDelay),
	}
}

func (c *client) Connect() error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if c.cancel != nil {
		// Already running.
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})

	go c.run(ctx)
	return nil
}

func (c *client) Disconnect() error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if c.cancel == nil {
		// Already disconnected.
		return nil
	}
	c.cancel()
	<-c.loopDone
	c.cancel = nil

	c.setState(StateIdle)
	log.Info().Str("host", c.options.Host).Msg("Disconnected from wiser")
	return nil
}

// run is the connection loop. Each iteration is one connection attempt and
// returns when the attempt or the established connection fails.
func (c *client) run(ctx context.Context) {
	defer close(c.loopDone)

	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := c.backoff.Next()
		reconnects.Inc()
		c.setState(StateBackoff)
		log.Error().
			Err(err).
			Dur("retryIn", delay).
			Msg("Error connecting to wiser, will retry")

		select {
		case <-ctx.Done():
			return
		case <-c.after(delay):
		}
	}
}

func (c *client) connectAndServe(ctx context.Context) error {
	c.setState(StateFetchingAuth)
	authKey, err := FetchAuthKey(ctx, c.httpClient, &c.options)
	if err != nil {
		return err
	}
	log.Debug().Msg("Retrieved auth key")

	c.setState(StateFetchingProject)
	if err := c.fetchProject(ctx); err != nil {
		return err
	}

	c.setState(StateConnectingSocket)
	address := net.JoinHostPort(c.options.Host, strconv.Itoa(c.options.Port))
	dialCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", address)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: error connecting to %s: %w", ErrNetwork, address, err)
	}
	c.backoff.Reset()
	log.Info().Str("address", address).Msg("Connected to wiser")

	c.connMutex.Lock()
	c.conn = conn
	c.authKey = authKey
	c.connMutex.Unlock()
	defer c.closeConnection(conn)

	// Unblocks the read below on Disconnect.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	c.setState(StateAuthenticating)
	log.Debug().Msg("Authenticating")
	if err := c.Send(EncodeAuth(authKey)); err != nil {
		return err
	}
	c.setState(StateConnected)

	if err := c.GetAllLevels(); err != nil {
		return err
	}

	return c.receive(conn)
}

// fetchProject fetches the project and hands it to the project subscribers.
// Invalid device type overrides are logged, the groups are still delivered.
func (c *client) fetchProject(ctx context.Context) error {
	projectCtx, cancel := context.WithTimeout(ctx, projectFetchTimeout)
	defer cancel()

	groups, err := FetchProject(projectCtx, c.httpClient, &c.options)
	if err != nil {
		if groups == nil || !errors.Is(err, ErrConfig) {
			return err
		}
		log.Error().Err(err).Msg("Invalid device type override in config")
	}
	log.Debug().Int("groups", len(groups)).Msg("Retrieved project")

	c.projectMutex.RLock()
	callbacks := make([]ProjectCallback, 0, len(c.projectCallbacks))
	for _, callback := range c.projectCallbacks {
		callbacks = append(callbacks, callback)
	}
	c.projectMutex.RUnlock()

	for _, callback := range callbacks {
		callback(groups)
	}
	return nil
}

// receive hands every tag read from the connection to the router until the
// connection fails.
func (c *client) receive(conn net.Conn) error {
	reader := NewTagReader(conn)
	for {
		tag, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: socket closed", ErrNetwork)
			}
			return fmt.Errorf("%w: error reading socket: %w", ErrNetwork, err)
		}
		c.router.OnTag(tag)
	}
}

func (c *client) closeConnection(conn net.Conn) {
	c.connMutex.Lock()
	if c.conn == conn {
		c.conn = nil
		c.authKey = ""
	}
	c.connMutex.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("Error closing wiser socket")
	}
	log.Warn().Msg("Wiser socket closed")
}

func (c *client) Send(command string) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.conn == nil {
		commandsDropped.Inc()
		log.Debug().Str("command", command).Msg("Not connected to wiser, dropping command")
		return nil
	}
	if c.options.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: set write deadline: %w", ErrNetwork, err)
		}
	}
	if _, err := io.WriteString(c.conn, command); err != nil {
		// The receive loop sees the closed connection and goes to backoff.
		c.conn.Close()
		return fmt.Errorf("%w: error writing command: %w", ErrNetwork, err)
	}
	commandsSent.Inc()
	log.Debug().Str("command", command).Msg("Command sent")
	return nil
}

func (c *client) SetGroupLevel(address AccessoryAddress, level int, ramp int) error {
	return c.Send(EncodeSetLevel(address, level, ramp))
}

func (c *client) GetAllLevels() error {
	return c.Send(EncodeGetAllLevels())
}

func (c *client) GroupSetSubscribe(id string, callback GroupSetCallback) error {
	return c.router.subscribe(EventKindLive, id, callback)
}

func (c *client) GroupSetUnsubscribe(id string) error {
	return c.router.unsubscribe(EventKindLive, id)
}

func (c *client) GroupScanSubscribe(id string, callback GroupSetCallback) error {
	return c.router.subscribe(EventKindScan, id, callback)
}

func (c *client) GroupScanUnsubscribe(id string) error {
	return c.router.unsubscribe(EventKindScan, id)
}

func (c *client) ProjectSubscribe(id string, callback ProjectCallback) error {
	c.projectMutex.Lock()
	defer c.projectMutex.Unlock()

	if _, exists := c.projectCallbacks[id]; exists {
		return errors.New("Project callback with id " + id + " already exists")
	}
	c.projectCallbacks[id] = callback
	return nil
}

func (c *client) ProjectUnsubscribe(id string) error {
	c.projectMutex.Lock()
	defer c.projectMutex.Unlock()

	if _, exists := c.projectCallbacks[id]; !exists {
		return errors.New("Project callback with id " + id + " does not exist")
	}
	delete(c.projectCallbacks, id)
	return nil
}

func (c *client) StateSubscribe(id string, callback StateCallback) error {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()

	if _, exists := c.stateCallbacks[id]; exists {
		return errors.New("State callback with id " + id + " already exists")
	}
	c.stateCallbacks[id] = callback
	return nil
}

func (c *client) StateUnsubscribe(id string) error {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()

	if _, exists := c.stateCallbacks[id]; !exists {
		return errors.New("State callback with id " + id + " does not exist")
	}
	delete(c.stateCallbacks, id)
	return nil
}

func (c *client) State() State {
	return State(c.state.Load())
}

func (c *client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *client) setState(state State) {
	previous := State(c.state.Swap(uint32(state)))
	if previous == state {
		return
	}
	if state == StateConnected {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
	log.Debug().Str("from", previous.String()).Str("to", state.String()).Msg("Connection state changed")

	c.stateMutex.RLock()
	callbacks := make([]StateCallback, 0, len(c.stateCallbacks))
	for _, callback := range c.stateCallbacks {
		callbacks = append(callbacks, callback)
	}
	c.stateMutex.RUnlock()

	for _, callback := range callbacks {
		callback(state)
	}
}
