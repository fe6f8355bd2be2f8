// Package camera drives one Nanit camera over the WebSocket channel. The
// Controller connects (preferring the LAN when allowed), primes the state
// snapshot, merges push events, exposes the command surface, and promotes a
// cloud connection to local when the camera becomes reachable directly.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethan/nanit-relay/pkg/metrics"
	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/state"
	"github.com/ethan/nanit-relay/pkg/transport"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultProbeInterval  = 300 * time.Second
	defaultProbeBudget    = 5 * time.Second

	// rtmpsURLFormat takes the baby UID and a current access token.
	rtmpsURLFormat = "rtmps://media-secured.nanit.com/nanit/%s.%s"
)

// TokenSource supplies a valid access token per use, typically
// *auth.TokenManager.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config identifies one camera and how to reach it.
type Config struct {
	BabyUID   string
	CameraUID string

	// LocalIP enables the LAN path: connect-first when PreferLocal is set,
	// probe-and-promote otherwise.
	LocalIP     string
	UCToken     string
	PreferLocal bool

	CloudHost string
}

// Controller is the per-camera state machine. Start once, Stop once; all
// other methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	tokens  TokenSource
	logger  *slog.Logger
	pending *pendingTable

	requestTimeout time.Duration
	probeInterval  time.Duration
	probeBudget    time.Duration

	// test seams, default to the cfg-derived targets
	cloudTarget transport.TargetFunc
	localTarget transport.TargetFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *transport.Conn
	st      state.CameraState
	subs    map[int]func(state.CameraEvent)
	nextSub int
	started bool
	stopped bool
}

// New builds a controller. Nothing connects until Start.
func New(cfg Config, tokens TokenSource, log *slog.Logger) *Controller {
	if cfg.CloudHost == "" {
		cfg.CloudHost = transport.DefaultCloudHost
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:            cfg,
		tokens:         tokens,
		logger:         log.With("component", "camera", "camera_uid", cfg.CameraUID),
		pending:        newPendingTable(),
		requestTimeout: defaultRequestTimeout,
		probeInterval:  defaultProbeInterval,
		probeBudget:    defaultProbeBudget,
		ctx:            ctx,
		cancel:         cancel,
		st:             state.NewCameraState(),
		subs:           make(map[int]func(state.CameraEvent)),
	}
	c.cloudTarget = transport.CloudTargetFunc(cfg.CloudHost, cfg.CameraUID, c.tokenFunc)
	if cfg.LocalIP != "" {
		c.localTarget = transport.LocalTargetFunc(cfg.LocalIP, cfg.UCToken)
	}
	return c
}

func (c *Controller) tokenFunc(ctx context.Context) (string, error) {
	return c.tokens.AccessToken(ctx)
}

// Start connects to the camera and primes the state snapshot. A failed local
// attempt falls through to the cloud; a failed cloud attempt is fatal.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return &UnavailableError{CameraUID: c.cfg.CameraUID, Err: fmt.Errorf("controller stopped")}
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("camera: already started")
	}
	c.mu.Unlock()

	var conn *transport.Conn
	if c.cfg.PreferLocal && c.localTarget != nil {
		local, err := c.connect(ctx, state.TransportLocal, c.localTarget)
		if err != nil {
			c.logger.Warn("local connect failed, falling back to cloud", "err", err)
		} else {
			conn = local
		}
	}
	if conn == nil {
		cloud, err := c.connect(ctx, state.TransportCloud, c.cloudTarget)
		if err != nil {
			return &UnavailableError{CameraUID: c.cfg.CameraUID, Err: err}
		}
		conn = cloud
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.prime(ctx)

	c.mu.Lock()
	c.started = true
	startProbe := conn.Kind() == state.TransportCloud && c.localTarget != nil && !c.stopped
	if startProbe {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if startProbe {
		go c.probeLoop()
	}
	return nil
}

func (c *Controller) connect(ctx context.Context, kind state.TransportKind, target transport.TargetFunc) (*transport.Conn, error) {
	conn := transport.New(kind, target, c.logger)
	conn.OnMessage(c.handleFrame)
	conn.OnConnectionChange(c.handleChange)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// prime pulls the full snapshot and enables sensor pushes. Each step is
// individually fault tolerant; a camera that answers half the requests still
// comes up with half a snapshot.
func (c *Controller) prime(ctx context.Context) {
	steps := []struct {
		name string
		req  *protocol.Request
	}{
		{"status", &protocol.Request{Type: protocol.RequestGetStatus, GetStatus: &protocol.GetStatus{All: true}}},
		{"settings", &protocol.Request{Type: protocol.RequestGetSettings}},
		{"sensor data", &protocol.Request{Type: protocol.RequestGetSensorData, GetSensorData: &protocol.GetSensorData{All: true}}},
		{"control", &protocol.Request{Type: protocol.RequestGetControl, GetControl: &protocol.GetControl{NightLight: true}}},
	}
	for _, step := range steps {
		if _, err := c.sendRequest(ctx, step.req); err != nil {
			c.logger.Warn("priming step failed", "step", step.name, "err", err)
		}
	}

	enableAll := &protocol.Control{
		SensorDataTransfer: &protocol.SensorDataTransfer{
			Sound: true, Motion: true, Temperature: true,
			Humidity: true, Light: true, Night: true,
		},
	}
	if _, err := c.sendRequest(ctx, &protocol.Request{Type: protocol.RequestPutControl, Control: enableAll}); err != nil {
		c.logger.Warn("enabling sensor pushes failed", "err", err)
	}
}

// sendRequest tracks, sends, and awaits one request round trip.
func (c *Controller) sendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, &transport.Error{Op: "request", Err: transport.ErrNotConnected}
	}

	id, ch := c.pending.track()
	req.ID = id

	start := time.Now()
	if err := conn.Send(protocol.BuildRequest(req)); err != nil {
		c.pending.drop(id)
		metrics.Requests.WithLabelValues(req.Type.String(), "send_error").Inc()
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			metrics.Requests.WithLabelValues(req.Type.String(), "cancelled").Inc()
			return nil, &transport.Error{Op: "request", Err: fmt.Errorf("connection lost")}
		}
		metrics.Requests.WithLabelValues(req.Type.String(), strconv.Itoa(int(resp.StatusCode))).Inc()
		metrics.RequestDuration.Observe(time.Since(start).Seconds())
		return resp, nil
	case <-timer.C:
		c.pending.drop(id)
		metrics.Requests.WithLabelValues(req.Type.String(), "timeout").Inc()
		return nil, &RequestTimeoutError{RequestType: req.Type, RequestID: id, Timeout: c.requestTimeout}
	case <-ctx.Done():
		c.pending.drop(id)
		metrics.Requests.WithLabelValues(req.Type.String(), "context").Inc()
		return nil, ctx.Err()
	}
}

// handleFrame is the transport's message callback.
func (c *Controller) handleFrame(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "err", err, "len", len(data))
		return
	}

	c.mu.Lock()
	now := time.Now()
	c.st.Connection.LastSeen = &now
	c.mu.Unlock()

	switch msg.Type {
	case protocol.MessageKeepalive:
		// camera's side of the keepalive exchange
	case protocol.MessageResponse:
		if msg.Response == nil {
			return
		}
		c.applyResponse(msg.Response)
		if !c.pending.resolve(msg.Response) {
			c.logger.Debug("unmatched response", "request_id", msg.Response.RequestID,
				"type", msg.Response.RequestType.String())
		}
	case protocol.MessageRequest:
		if msg.Request == nil {
			return
		}
		metrics.PushEvents.WithLabelValues(msg.Request.Type.String()).Inc()
		c.applyPush(msg.Request)
	}
}

// applyResponse merges any payload a response carries, so refreshes update
// the snapshot no matter who sent the request.
func (c *Controller) applyResponse(resp *protocol.Response) {
	var events []state.EventKind
	c.mu.Lock()
	if len(resp.SensorData) > 0 && applySensorData(resp.SensorData, &c.st.Sensors) {
		events = append(events, state.EventSensorUpdate)
	}
	if applySettings(resp.Settings, &c.st.Settings) {
		events = append(events, state.EventSettingsUpdate)
	}
	if applyControl(resp.Control, &c.st.Control) {
		events = append(events, state.EventControlUpdate)
	}
	if applyStatus(resp.Status, &c.st.Status) {
		events = append(events, state.EventStatusUpdate)
	}
	c.mu.Unlock()

	for _, kind := range events {
		c.emit(kind)
	}
}

func (c *Controller) applyPush(req *protocol.Request) {
	var events []state.EventKind
	c.mu.Lock()
	switch req.Type {
	case protocol.RequestPutSensorData:
		if applySensorData(req.SensorData, &c.st.Sensors) {
			events = append(events, state.EventSensorUpdate)
		}
	case protocol.RequestPutSettings:
		if applySettings(req.Settings, &c.st.Settings) {
			events = append(events, state.EventSettingsUpdate)
		}
	case protocol.RequestPutControl:
		if applyControl(req.Control, &c.st.Control) {
			events = append(events, state.EventControlUpdate)
		}
	case protocol.RequestPutStatus:
		if applyStatus(req.Status, &c.st.Status) {
			events = append(events, state.EventStatusUpdate)
		}
	default:
		c.logger.Debug("ignoring push", "type", req.Type.String())
	}
	c.mu.Unlock()

	for _, kind := range events {
		c.emit(kind)
	}
}

// handleChange is the transport's state callback.
func (c *Controller) handleChange(ch transport.ConnectionChange) {
	c.mu.Lock()
	c.st.Connection.State = ch.State
	c.st.Connection.ReconnectAttempts = ch.Attempts
	if ch.Err != nil {
		c.st.Connection.LastError = ch.Err.Error()
	}
	switch ch.State {
	case state.StateConnected:
		c.st.Connection.Transport = ch.Transport
		c.st.Connection.LastError = ""
		now := time.Now()
		c.st.Connection.LastSeen = &now
	default:
		c.st.Connection.Transport = ch.Transport
	}
	reprime := ch.State == state.StateConnected && c.started && !c.stopped
	if reprime {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if ch.State != state.StateConnected {
		if n := c.pending.cancelAll(); n > 0 {
			c.logger.Debug("cancelled in-flight requests", "count", n)
		}
	}
	c.emit(state.EventConnectionChange)

	if reprime {
		go func() {
			defer c.wg.Done()
			c.prime(c.ctx)
		}()
	}
}

// probeLoop periodically checks whether the camera answers on the LAN and
// promotes the connection when it does.
func (c *Controller) probeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(c.ctx, c.probeBudget)
			err := transport.Probe(probeCtx, c.localTarget)
			cancel()
			if err != nil {
				c.logger.Debug("local probe failed", "err", err)
				continue
			}
			if c.promote() {
				return
			}
		}
	}
}

// promote swaps the cloud connection for a local one. In-flight requests are
// cancelled rather than replayed on the new transport.
func (c *Controller) promote() bool {
	c.logger.Info("camera reachable locally, promoting connection")

	conn := transport.New(state.TransportLocal, c.localTarget, c.logger)
	conn.OnMessage(c.handleFrame)
	if err := conn.Connect(c.ctx); err != nil {
		c.logger.Warn("promotion connect failed, staying on cloud", "err", err)
		conn.Close()
		return false
	}
	// The state callback is attached only once the swap is committed; until
	// then the cloud connection still owns the reported state.
	conn.OnConnectionChange(c.handleChange)

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.st.Connection.State = state.StateConnected
	c.st.Connection.Transport = state.TransportLocal
	c.st.Connection.LastError = ""
	c.st.Connection.ReconnectAttempts = 0
	now := time.Now()
	c.st.Connection.LastSeen = &now
	c.mu.Unlock()

	if n := c.pending.cancelAll(); n > 0 {
		c.logger.Debug("promotion cancelled in-flight requests", "count", n)
	}
	c.emit(state.EventConnectionChange)

	if old != nil {
		old.OnMessage(nil)
		old.OnConnectionChange(nil)
		old.Close()
	}

	c.prime(c.ctx)
	return true
}

// State returns the current snapshot.
func (c *Controller) State() state.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Subscribe registers an event callback and returns its unsubscribe function.
// A panicking subscriber is logged and does not affect the others.
func (c *Controller) Subscribe(fn func(state.CameraEvent)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) emit(kind state.EventKind) {
	c.mu.Lock()
	snapshot := c.st
	subs := make([]func(state.CameraEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	ev := state.CameraEvent{Kind: kind, State: snapshot}
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("event subscriber panicked", "panic", r, "kind", string(kind))
				}
			}()
			fn(ev)
		}()
	}
}

// Stop tears the controller down. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.pending.cancelAll()
	c.wg.Wait()
	c.logger.Info("stopped")
}

// ----------------------------------------------------------------------
// Command surface
// ----------------------------------------------------------------------

// RefreshSensorData asks for a full sensor report. The snapshot updates when
// the response arrives.
func (c *Controller) RefreshSensorData(ctx context.Context) error {
	_, err := c.sendRequest(ctx, &protocol.Request{
		Type:          protocol.RequestGetSensorData,
		GetSensorData: &protocol.GetSensorData{All: true},
	})
	return err
}

// RefreshStatus asks for a device status report.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	_, err := c.sendRequest(ctx, &protocol.Request{
		Type:      protocol.RequestGetStatus,
		GetStatus: &protocol.GetStatus{All: true},
	})
	return err
}

// RefreshSettings asks for the settings plane.
func (c *Controller) RefreshSettings(ctx context.Context) error {
	_, err := c.sendRequest(ctx, &protocol.Request{Type: protocol.RequestGetSettings})
	return err
}

// RefreshControl asks for the control plane.
func (c *Controller) RefreshControl(ctx context.Context) error {
	_, err := c.sendRequest(ctx, &protocol.Request{
		Type:       protocol.RequestGetControl,
		GetControl: &protocol.GetControl{NightLight: true},
	})
	return err
}

// SetNightLight switches the night light, optionally with an auto-off
// timeout in seconds.
func (c *Controller) SetNightLight(ctx context.Context, on bool, timeoutSeconds *int32) error {
	mode := protocol.NightLightOff
	if on {
		mode = protocol.NightLightOn
	}
	ctl := &protocol.Control{NightLight: &mode, NightLightTimeout: timeoutSeconds}
	_, err := c.sendRequest(ctx, &protocol.Request{Type: protocol.RequestPutControl, Control: ctl})
	return err
}

// SetVolume sets the speaker volume, 0-100.
func (c *Controller) SetVolume(ctx context.Context, volume int32) error {
	return c.putSettings(ctx, &protocol.Settings{Volume: &volume})
}

// SetSleepMode turns the camera display and capture off or on.
func (c *Controller) SetSleepMode(ctx context.Context, on bool) error {
	return c.putSettings(ctx, &protocol.Settings{SleepMode: &on})
}

// SetMicMute mutes or unmutes the camera microphone.
func (c *Controller) SetMicMute(ctx context.Context, on bool) error {
	return c.putSettings(ctx, &protocol.Settings{MicMuteOn: &on})
}

// SetStatusLight switches the status LED.
func (c *Controller) SetStatusLight(ctx context.Context, on bool) error {
	return c.putSettings(ctx, &protocol.Settings{StatusLightOn: &on})
}

// SetNightVision switches infrared night vision.
func (c *Controller) SetNightVision(ctx context.Context, on bool) error {
	return c.putSettings(ctx, &protocol.Settings{NightVision: &on})
}

func (c *Controller) putSettings(ctx context.Context, settings *protocol.Settings) error {
	_, err := c.sendRequest(ctx, &protocol.Request{Type: protocol.RequestPutSettings, Settings: settings})
	return err
}

// StreamURL builds the RTMPS URL for the camera's media push, embedding a
// fresh access token.
func (c *Controller) StreamURL(ctx context.Context) (string, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(rtmpsURLFormat, c.cfg.BabyUID, token), nil
}

// StartStreaming asks the camera to push media to the RTMPS endpoint.
func (c *Controller) StartStreaming(ctx context.Context) error {
	url, err := c.StreamURL(ctx)
	if err != nil {
		return err
	}
	_, err = c.sendRequest(ctx, &protocol.Request{
		Type: protocol.RequestPutStreaming,
		Streaming: &protocol.Streaming{
			ID:      protocol.StreamMobile,
			Status:  protocol.StreamingStarted,
			RTMPURL: url,
		},
	})
	return err
}

// StopStreaming asks the camera to stop its media push.
func (c *Controller) StopStreaming(ctx context.Context) error {
	_, err := c.sendRequest(ctx, &protocol.Request{
		Type: protocol.RequestPutStreaming,
		Streaming: &protocol.Streaming{
			ID:     protocol.StreamMobile,
			Status: protocol.StreamingStopped,
		},
	})
	return err
}

// BabyUID reports which baby profile this camera belongs to.
func (c *Controller) BabyUID() string { return c.cfg.BabyUID }

// CameraUID reports the camera's device UID.
func (c *Controller) CameraUID() string { return c.cfg.CameraUID }
