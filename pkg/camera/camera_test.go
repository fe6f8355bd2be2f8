package camera

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/state"
	"github.com/ethan/nanit-relay/pkg/transport"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type fakeTokens struct{ token string }

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) { return f.token, nil }

// fakeCamera is an in-process WebSocket peer speaking the camera protocol.
type fakeCamera struct {
	target transport.TargetFunc

	mu        sync.Mutex
	writeMu   sync.Mutex
	handler   func(req *protocol.Request) *protocol.Response
	onConnect func(ws *websocket.Conn)
	reqs      []*protocol.Request
	acks      []*protocol.Response
	conns     []*websocket.Conn
}

func newFakeCamera(t *testing.T, handler func(req *protocol.Request) *protocol.Response) *fakeCamera {
	t.Helper()
	f := &fakeCamera{handler: handler}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, ws)
		hook := f.onConnect
		f.mu.Unlock()
		if hook != nil {
			hook(ws)
		}
		f.serve(ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f.target = func(ctx context.Context) (transport.Target, error) {
		return transport.Target{URL: url, Header: http.Header{}}, nil
	}
	return f
}

func (f *fakeCamera) serve(ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case protocol.MessageRequest:
			req := msg.Request
			f.mu.Lock()
			f.reqs = append(f.reqs, req)
			handler := f.handler
			f.mu.Unlock()

			var resp *protocol.Response
			if handler != nil {
				resp = handler(req)
			}
			if resp == nil {
				continue
			}
			resp.RequestID = req.ID
			if resp.RequestType == 0 {
				resp.RequestType = req.Type
			}
			f.write(ws, protocol.EncodeMessage(&protocol.Message{Type: protocol.MessageResponse, Response: resp}))
		case protocol.MessageResponse:
			f.mu.Lock()
			f.acks = append(f.acks, msg.Response)
			f.mu.Unlock()
		}
	}
}

func (f *fakeCamera) write(ws *websocket.Conn, data []byte) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	ws.WriteMessage(websocket.BinaryMessage, data)
}

// push sends an unsolicited request to the most recent connection.
func (f *fakeCamera) push(req *protocol.Request) {
	f.mu.Lock()
	ws := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	f.write(ws, protocol.BuildRequest(req))
}

func (f *fakeCamera) setHandler(handler func(req *protocol.Request) *protocol.Response) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

// setOnConnect installs a hook run for every new connection before serving.
func (f *fakeCamera) setOnConnect(hook func(ws *websocket.Conn)) {
	f.mu.Lock()
	f.onConnect = hook
	f.mu.Unlock()
}

func (f *fakeCamera) closeAll() {
	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, ws := range conns {
		ws.Close()
	}
}

func (f *fakeCamera) requestTypes() []protocol.RequestType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]protocol.RequestType, len(f.reqs))
	for i, r := range f.reqs {
		types[i] = r.Type
	}
	return types
}

func (f *fakeCamera) requests() []*protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Request(nil), f.reqs...)
}

func (f *fakeCamera) ackFor(id uint32) *protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.acks {
		if a.RequestID == id {
			return a
		}
	}
	return nil
}

func echoHandler(req *protocol.Request) *protocol.Response {
	return &protocol.Response{StatusCode: 200}
}

// primingHandler answers the priming sequence with a representative snapshot.
func primingHandler(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{StatusCode: 200}
	switch req.Type {
	case protocol.RequestGetStatus:
		conn := protocol.ServerConnected
		resp.Status = &protocol.Status{ConnectionToServer: &conn, CurrentVersion: "5.10.4"}
	case protocol.RequestGetSettings:
		vol := int32(80)
		resp.Settings = &protocol.Settings{Volume: &vol}
	case protocol.RequestGetSensorData:
		resp.SensorData = []*protocol.SensorData{
			{SensorType: protocol.SensorTemperature, ValueMilli: i32(21500)},
			{SensorType: protocol.SensorHumidity, ValueMilli: i32(45000)},
		}
	case protocol.RequestGetControl:
		off := protocol.NightLightOff
		resp.Control = &protocol.Control{NightLight: &off}
	}
	return resp
}

func newTestController(t *testing.T, f *fakeCamera) *Controller {
	t.Helper()
	c := New(Config{
		BabyUID:     "baby1",
		CameraUID:   "cam1",
		LocalIP:     "127.0.0.1",
		UCToken:     "uc-token",
		PreferLocal: true,
	}, &fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.localTarget = f.target
	c.requestTimeout = 2 * time.Second
	return c
}

func TestStartPrimesSnapshot(t *testing.T) {
	f := newFakeCamera(t, primingHandler)
	c := newTestController(t, f)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	st := c.State()
	assert.Equal(t, state.StateConnected, st.Connection.State)
	assert.Equal(t, state.TransportLocal, st.Connection.Transport)
	require.NotNil(t, st.Sensors.Temperature)
	assert.InDelta(t, 21.5, *st.Sensors.Temperature, 0.0001)
	require.NotNil(t, st.Sensors.Humidity)
	assert.InDelta(t, 45.0, *st.Sensors.Humidity, 0.0001)
	require.NotNil(t, st.Settings.Volume)
	assert.Equal(t, int32(80), *st.Settings.Volume)
	require.NotNil(t, st.Control.NightLight)
	assert.Equal(t, state.NightLightOff, *st.Control.NightLight)
	require.NotNil(t, st.Status.FirmwareVersion)
	assert.Equal(t, "5.10.4", *st.Status.FirmwareVersion)
	require.NotNil(t, st.Status.ConnectedToServer)
	assert.True(t, *st.Status.ConnectedToServer)

	// The priming sequence, in order, then the push enable.
	assert.Equal(t, []protocol.RequestType{
		protocol.RequestGetStatus,
		protocol.RequestGetSettings,
		protocol.RequestGetSensorData,
		protocol.RequestGetControl,
		protocol.RequestPutControl,
	}, f.requestTypes())

	reqs := f.requests()
	for i, r := range reqs {
		assert.Equal(t, uint32(i+1), r.ID)
	}
	last := reqs[len(reqs)-1]
	require.NotNil(t, last.Control)
	require.NotNil(t, last.Control.SensorDataTransfer)
	tr := last.Control.SensorDataTransfer
	assert.True(t, tr.Sound && tr.Motion && tr.Temperature && tr.Humidity && tr.Light && tr.Night)
}

func TestPushMerges(t *testing.T) {
	f := newFakeCamera(t, primingHandler)
	c := newTestController(t, f)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	f.push(&protocol.Request{
		ID:   1000,
		Type: protocol.RequestPutSensorData,
		SensorData: []*protocol.SensorData{
			{SensorType: protocol.SensorHumidity, ValueMilli: i32(50000)},
		},
	})

	require.Eventually(t, func() bool {
		st := c.State()
		return st.Sensors.Humidity != nil && *st.Sensors.Humidity == 50.0
	}, 2*time.Second, 10*time.Millisecond)

	// Unmentioned sensors keep their primed values.
	st := c.State()
	require.NotNil(t, st.Sensors.Temperature)
	assert.InDelta(t, 21.5, *st.Sensors.Temperature, 0.0001)

	// Pushes are consumed silently; nothing goes back on the wire.
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, f.ackFor(1000))
}

func TestDisconnectCancelsInflight(t *testing.T) {
	f := newFakeCamera(t, echoHandler)
	c := newTestController(t, f)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	// Stop answering, then cut the connection under an in-flight request.
	f.setHandler(func(*protocol.Request) *protocol.Response { return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- c.RefreshSensorData(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	f.closeAll()

	select {
	case err := <-errCh:
		var terr *transport.Error
		require.ErrorAs(t, err, &terr)
		assert.Contains(t, err.Error(), "connection lost")
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight request was not cancelled")
	}
	assert.Equal(t, 0, c.pending.size())
}

func TestRequestTimeout(t *testing.T) {
	f := newFakeCamera(t, echoHandler)
	c := newTestController(t, f)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	f.setHandler(func(*protocol.Request) *protocol.Response { return nil })
	c.requestTimeout = 150 * time.Millisecond

	err := c.RefreshStatus(context.Background())
	var terr *RequestTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, protocol.RequestGetStatus, terr.RequestType)
	assert.Equal(t, 150*time.Millisecond, terr.Timeout)
	assert.Contains(t, err.Error(), "150ms")
	assert.Equal(t, 0, c.pending.size())
}

func TestStartCloudFatalWhenUnreachable(t *testing.T) {
	c := New(Config{BabyUID: "baby1", CameraUID: "cam1"},
		&fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.cloudTarget = func(ctx context.Context) (transport.Target, error) {
		return transport.Target{URL: "ws://127.0.0.1:1/", Header: http.Header{}}, nil
	}

	err := c.Start(context.Background())
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "cam1", uerr.CameraUID)
}

func TestLocalFailureFallsBackToCloud(t *testing.T) {
	cloud := newFakeCamera(t, primingHandler)
	c := New(Config{
		BabyUID:     "baby1",
		CameraUID:   "cam1",
		LocalIP:     "127.0.0.1",
		UCToken:     "uc",
		PreferLocal: true,
	}, &fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.cloudTarget = cloud.target
	c.localTarget = func(ctx context.Context) (transport.Target, error) {
		return transport.Target{URL: "ws://127.0.0.1:1/", Header: http.Header{}}, nil
	}
	c.requestTimeout = 2 * time.Second
	c.probeInterval = time.Hour

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	st := c.State()
	assert.Equal(t, state.StateConnected, st.Connection.State)
	assert.Equal(t, state.TransportCloud, st.Connection.Transport)
}

func TestPromotionFromCloudToLocal(t *testing.T) {
	cloud := newFakeCamera(t, primingHandler)
	local := newFakeCamera(t, primingHandler)

	c := New(Config{
		BabyUID:   "baby1",
		CameraUID: "cam1",
		LocalIP:   "127.0.0.1",
		UCToken:   "uc",
	}, &fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.cloudTarget = cloud.target
	c.localTarget = local.target
	c.requestTimeout = 2 * time.Second
	c.probeInterval = 50 * time.Millisecond
	c.probeBudget = time.Second

	var mu sync.Mutex
	var events []state.CameraEvent
	c.Subscribe(func(ev state.CameraEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	assert.Equal(t, state.TransportCloud, c.State().Connection.Transport)

	require.Eventually(t, func() bool {
		st := c.State()
		return st.Connection.Transport == state.TransportLocal && st.Connection.State == state.StateConnected
	}, 5*time.Second, 20*time.Millisecond)

	// The local transport was re-primed after promotion.
	require.Eventually(t, func() bool {
		for _, typ := range local.requestTypes() {
			if typ == protocol.RequestGetStatus {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var sawPromotion bool
	for _, ev := range events {
		if ev.Kind == state.EventConnectionChange && ev.State.Connection.Transport == state.TransportLocal {
			sawPromotion = true
		}
	}
	assert.True(t, sawPromotion)
}

func TestPromotionDeliversFramesSentOnConnect(t *testing.T) {
	cloud := newFakeCamera(t, primingHandler)
	local := newFakeCamera(t, echoHandler)

	// The camera starts pushing the moment the LAN session is up, before any
	// request has gone out.
	local.setOnConnect(func(ws *websocket.Conn) {
		local.write(ws, protocol.BuildRequest(&protocol.Request{
			ID:   3000,
			Type: protocol.RequestPutSensorData,
			SensorData: []*protocol.SensorData{
				{SensorType: protocol.SensorHumidity, ValueMilli: i32(62000)},
			},
		}))
	})

	c := New(Config{
		BabyUID:   "baby1",
		CameraUID: "cam1",
		LocalIP:   "127.0.0.1",
		UCToken:   "uc",
	}, &fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.cloudTarget = cloud.target
	c.localTarget = local.target
	c.requestTimeout = 2 * time.Second
	c.probeInterval = 50 * time.Millisecond
	c.probeBudget = time.Second

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		st := c.State()
		return st.Connection.Transport == state.TransportLocal &&
			st.Sensors.Humidity != nil && *st.Sensors.Humidity == 62.0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStreamURL(t *testing.T) {
	c := New(Config{BabyUID: "baby1", CameraUID: "cam1"},
		&fakeTokens{token: "tok123"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	url, err := c.StreamURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rtmps://media-secured.nanit.com/nanit/baby1.tok123", url)
}

func TestSubscriberPanicContained(t *testing.T) {
	f := newFakeCamera(t, primingHandler)
	c := newTestController(t, f)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	c.Subscribe(func(state.CameraEvent) { panic("boom") })
	got := make(chan state.CameraEvent, 8)
	c.Subscribe(func(ev state.CameraEvent) { got <- ev })

	f.push(&protocol.Request{
		ID:   2000,
		Type: protocol.RequestPutSensorData,
		SensorData: []*protocol.SensorData{
			{SensorType: protocol.SensorMotion, IsAlert: true},
		},
	})

	select {
	case ev := <-got:
		assert.Equal(t, state.EventSensorUpdate, ev.Kind)
		assert.True(t, ev.State.Sensors.MotionAlert)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber did not receive the event")
	}
}

func TestStopIdempotent(t *testing.T) {
	f := newFakeCamera(t, primingHandler)
	c := newTestController(t, f)
	require.NoError(t, c.Start(context.Background()))

	c.Stop()
	c.Stop()

	st := c.State()
	assert.Equal(t, state.StateDisconnected, st.Connection.State)
	assert.Equal(t, state.TransportNone, st.Connection.Transport)
}
