package stimulus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// SubscribeURL builds the websocket URL for ch on a bus served at base
// (http://host:port or ws://host:port).
func SubscribeURL(base string, ch Channel) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse bus url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ch.Path()
	return u.String(), nil
}

// Subscribe connects to ch on the bus at base and calls fn for every frame
// until ctx is done. Dropped connections are redialled after retry; a zero
// retry returns the first connection error instead.
func Subscribe(ctx context.Context, base string, ch Channel, retry time.Duration, fn func(Message)) error {
	endpoint, err := SubscribeURL(base, ch)
	if err != nil {
		return err
	}

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retry <= 0 {
				return fmt.Errorf("dial %s: %w", endpoint, err)
			}
			slog.Warn("bus dial failed", "url", endpoint, "error", err, "retry_in", retry)
		} else {
			slog.Info("bus subscribed", "url", endpoint)
			readErr := readFrames(ctx, conn, ch, fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retry <= 0 {
				return readErr
			}
			slog.Warn("bus subscription lost", "url", endpoint, "error", readErr, "retry_in", retry)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func readFrames(ctx context.Context, conn *websocket.Conn, ch Channel, fn func(Message)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		fn(Message{Channel: ch, Payload: payload, At: time.Now()})
	}
}
