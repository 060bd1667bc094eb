package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

const streamPath = "/v1/audio/transcriptions/stream"

var stopMessage = []byte(`{"action":"stop"}`)

// rawStreamSession is one open realtime channel. Recv returns io.EOF once the
// peer has closed the channel normally.
type rawStreamSession interface {
	Send(pcm []byte) error
	SendControl(msg []byte) error
	Recv() ([]byte, error)
	Close() error
}

// dialFunc opens a realtime channel; ctx bounds the handshake only.
type dialFunc func(ctx context.Context, endpoint string, header http.Header) (rawStreamSession, error)

type wsSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func dialWebSocket(ctx context.Context, endpoint string, header http.Header) (rawStreamSession, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	// server messages carry whole transcripts
	conn.SetReadLimit(1 << 20)

	streamCtx, cancel := context.WithCancel(context.Background())
	return &wsSession{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *wsSession) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *wsSession) SendControl(msg []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *wsSession) Recv() ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (s *wsSession) Close() error {
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// streamURL derives the realtime endpoint from the HTTP base URL.
func streamURL(base, language string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + streamPath
	u.RawPath = ""

	q := url.Values{}
	q.Set("language", language)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
