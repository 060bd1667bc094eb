package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"scribe/audio"
	"scribe/log"
	"scribe/vad"
)

const (
	realtimeFrameSize = 4096

	silenceTimeout = 3000 * time.Millisecond
	stopTimeout    = 5 * time.Second

	flushFrames       = 10
	flushFrameSamples = audio.DefaultSampleRate / 10 // 100ms
	flushInterval     = 50 * time.Millisecond
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type wsMessage struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

type realtimeStats struct {
	connectDur   time.Duration
	sentFrames   atomic.Int64
	sentBytes    atomic.Int64
	recvMessages atomic.Int64
	skipped      atomic.Int64
	synthetic    atomic.Bool
}

// RealtimeSession streams microphone audio over a WebSocket and forwards the
// server's transcript events. Events reach onEvent one at a time, in arrival
// order, ending with exactly one Final event.
type RealtimeSession struct {
	client *Client
	opener audio.Opener

	frameSize      int
	silenceTimeout time.Duration
	stopTimeout    time.Duration
	flushInterval  time.Duration
	threshold      float64

	mu            sync.Mutex
	state         atomic.Int32
	stopRequested bool
	channelGone   bool
	ws            rawStreamSession
	rec           *audio.Recording
	pumpDone      chan struct{}
	silence       *time.Timer
	watchdog      *time.Timer

	connected atomic.Bool
	sendMu    sync.Mutex

	deliverMu    sync.Mutex
	onEvent      func(Event)
	terminalSent bool
	lastText     string

	startedAt time.Time
	stats     realtimeStats
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewRealtime creates the client's realtime session. Only one session may be
// live per client; ErrSessionActive is returned until the previous one has
// closed.
func (c *Client) NewRealtime(opener audio.Opener) (*RealtimeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.realtime != nil && c.realtime.State() != StateClosed {
		return nil, ErrSessionActive
	}
	s := &RealtimeSession{
		client:         c,
		opener:         opener,
		frameSize:      realtimeFrameSize,
		silenceTimeout: silenceTimeout,
		stopTimeout:    stopTimeout,
		flushInterval:  flushInterval,
		threshold:      vad.DefaultThreshold,
		done:           make(chan struct{}),
	}
	c.realtime = s
	return s, nil
}

func (c *Client) release(s *RealtimeSession) {
	c.mu.Lock()
	if c.realtime == s {
		c.realtime = nil
	}
	c.mu.Unlock()
}

func (s *RealtimeSession) State() State { return State(s.state.Load()) }

func (s *RealtimeSession) setState(st State) { s.state.Store(int32(st)) }

// IsConnected reports whether the channel is open.
func (s *RealtimeSession) IsConnected() bool { return s.connected.Load() }

// Done is closed when the session reaches StateClosed.
func (s *RealtimeSession) Done() <-chan struct{} { return s.done }

// Start connects, acquires the capture device and begins streaming. ctx bounds
// connection setup and device acquisition only; use Stop to end the session.
func (s *RealtimeSession) Start(ctx context.Context, onEvent func(Event), language string) error {
	s.mu.Lock()
	if s.State() != StateIdle {
		st := s.State()
		s.mu.Unlock()
		return fmt.Errorf("realtime session is %s", st)
	}
	s.setState(StateConnecting)
	s.onEvent = onEvent
	s.startedAt = time.Now()
	s.mu.Unlock()

	cfg := s.client.config()
	endpoint, err := streamURL(cfg.BaseURL, language)
	if err != nil {
		s.finish("bad_url")
		return &ConnectionError{URL: cfg.BaseURL, Err: err}
	}
	header := http.Header{}
	s.client.setHeaders(header, cfg)

	log.SessionStart("realtime", language)
	connectStart := time.Now()
	ws, err := s.client.dial(ctx, endpoint, header)
	s.stats.connectDur = time.Since(connectStart)
	if err != nil {
		log.Errorf("realtime connect %s: %v", endpoint, err)
		s.finish("connect_failed")
		return &ConnectionError{URL: endpoint, Err: err}
	}

	s.mu.Lock()
	s.ws = ws
	s.connected.Store(true)
	stop := s.stopRequested
	s.mu.Unlock()

	go s.receive(ws)

	if stop {
		s.beginStopping()
		return nil
	}

	rec, err := s.opener.Open(ctx, audio.SpeechConfig(), s.frameSize)
	if err != nil {
		log.Errorf("realtime capture: %v", err)
		s.forceClose(err.Error())
		return fmt.Errorf("acquire capture device: %w", err)
	}

	pumpDone := make(chan struct{})
	s.mu.Lock()
	if s.channelGone {
		// the channel went away while the device was opening
		s.mu.Unlock()
		rec.Close()
		return nil
	}
	s.rec = rec
	s.pumpDone = pumpDone
	stop = s.stopRequested
	if !stop && s.State() == StateConnecting {
		s.setState(StateActive)
	}
	s.mu.Unlock()

	go s.pump(rec, ws, pumpDone)

	if stop {
		s.beginStopping()
	}
	return nil
}

// Stop ends capture and asks the server to finish. It may be called any
// number of times, from any goroutine, in any state.
func (s *RealtimeSession) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopRequested = true
		st := s.State()
		s.mu.Unlock()

		switch st {
		case StateIdle:
			s.finish("stopped_idle")
		case StateActive:
			s.beginStopping()
		}
		// connecting: Start notices stopRequested and stops itself
	})
}

func (s *RealtimeSession) beginStopping() {
	s.mu.Lock()
	if st := s.State(); st == StateStopping || st == StateClosed {
		s.mu.Unlock()
		return
	}
	s.setState(StateStopping)
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	rec, pumpDone, ws := s.rec, s.pumpDone, s.ws
	s.watchdog = time.AfterFunc(s.stopTimeout, func() {
		log.Warnf("realtime: no close from server %s after stop", s.stopTimeout)
		s.forceClose("")
	})
	s.mu.Unlock()

	if rec != nil {
		rec.Close()
	}

	go func() {
		if pumpDone != nil {
			<-pumpDone
		}
		s.flush(ws)
	}()
}

// flush sends trailing silence so the server's own endpointing emits any
// buffered text, then the stop control message.
func (s *RealtimeSession) flush(ws rawStreamSession) {
	zero := make([]byte, flushFrameSamples*2)
	for i := 0; i < flushFrames; i++ {
		if !s.connected.Load() {
			return
		}
		if err := s.send(ws, zero); err != nil {
			log.Warnf("realtime flush: %v", err)
			return
		}
		select {
		case <-s.done:
			return
		case <-time.After(s.flushInterval):
		}
	}
	s.sendMu.Lock()
	err := ws.SendControl(stopMessage)
	s.sendMu.Unlock()
	if err != nil {
		log.Warnf("realtime stop message: %v", err)
	}
}

func (s *RealtimeSession) send(ws rawStreamSession, pcm []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := ws.Send(pcm); err != nil {
		return err
	}
	s.stats.sentFrames.Add(1)
	s.stats.sentBytes.Add(int64(len(pcm)))
	return nil
}

func (s *RealtimeSession) pump(rec *audio.Recording, ws rawStreamSession, done chan struct{}) {
	defer close(done)
	gate := vad.NewGate(s.threshold)

	for frame := range rec.Frames() {
		switch gate.Process(frame) {
		case vad.Speech:
			s.cancelSilence()
		case vad.Silence:
			s.armSilence()
		}
		if err := s.send(ws, vad.ToPCM16(frame)); err != nil {
			if s.connected.Load() {
				log.Warnf("realtime send: %v", err)
			}
			return
		}
	}

	frames, voice := gate.Stats()
	log.Infof("realtime capture ended: frames=%d voice=%d", frames, voice)
}

func (s *RealtimeSession) armSilence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateActive || s.silence != nil {
		return
	}
	s.silence = time.AfterFunc(s.silenceTimeout, func() {
		log.Infof("realtime: %s of silence, stopping", s.silenceTimeout)
		s.Stop()
	})
}

func (s *RealtimeSession) cancelSilence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
}

func (s *RealtimeSession) receive(ws rawStreamSession) {
	reason := "server_closed"
	defer func() { s.channelClosed(reason) }()

	for {
		data, err := ws.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.deliverTerminal("")
			case !s.connected.Load() || s.State() == StateClosed:
				reason = "closed"
				s.deliverTerminal("")
			default:
				reason = "channel_error"
				log.Errorf("realtime channel: %v", err)
				s.deliverTerminal(err.Error())
			}
			return
		}
		s.stats.recvMessages.Add(1)

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.stats.skipped.Add(1)
			log.Warn((&StreamDecodeError{Payload: string(data), Err: err}).Error())
			continue
		}
		s.deliver(Event{Text: msg.Text, Final: msg.Final, Error: msg.Error})
	}
}

func (s *RealtimeSession) deliver(ev Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.terminalSent {
		return
	}
	if ev.Text != "" {
		s.lastText = ev.Text
	}
	if ev.Final {
		s.terminalSent = true
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// deliverTerminal synthesizes the Final event unless one was already sent.
func (s *RealtimeSession) deliverTerminal(errMsg string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.terminalSent {
		return
	}
	s.terminalSent = true
	s.stats.synthetic.Store(true)
	if s.onEvent != nil {
		s.onEvent(Event{Text: s.lastText, Final: true, Error: errMsg})
	}
}

// forceClose delivers the terminal event and tears the channel down; the
// receiver then finishes the session.
func (s *RealtimeSession) forceClose(errMsg string) {
	s.deliverTerminal(errMsg)

	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()

	s.connected.Store(false)
	if ws != nil {
		ws.Close()
	}
}

func (s *RealtimeSession) channelClosed(reason string) {
	s.connected.Store(false)

	s.mu.Lock()
	s.channelGone = true
	ws, rec := s.ws, s.rec
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.mu.Unlock()

	if rec != nil {
		rec.Close()
	}
	ws.Close()
	s.finish(reason)
}

func (s *RealtimeSession) finish(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.connected.Store(false)

		if !s.startedAt.IsZero() {
			sent := s.stats.sentBytes.Load()
			log.RealtimeMetrics(log.RealtimeMetricsData{
				ConnectMs:    float64(s.stats.connectDur.Milliseconds()),
				TotalMs:      float64(time.Since(s.startedAt).Milliseconds()),
				AudioS:       float64(sent) / float64(audio.DefaultSampleRate*2),
				SentFrames:   int(s.stats.sentFrames.Load()),
				SentKB:       float64(sent) / 1024,
				RecvMessages: int(s.stats.recvMessages.Load()),
				Skipped:      int(s.stats.skipped.Load()),
				Synthetic:    s.stats.synthetic.Load(),
			})
		}
		log.SessionEnd(reason)

		close(s.done)
		s.client.release(s)
	})
}
