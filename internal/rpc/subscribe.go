package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Reconnect backoff for the slot subscription.
const (
	initialSubscribeBackoff = 1 * time.Second
	maxSubscribeBackoff     = 60 * time.Second
)

// SlotSubscriber streams slot numbers from a node's websocket endpoint via
// slotSubscribe, reconnecting with backoff when the connection drops.
type SlotSubscriber struct {
	url    string
	header http.Header
	logger *slog.Logger

	// sleepFunc waits between reconnect attempts. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewSlotSubscriber creates a subscriber for wsURL. A non-empty token is sent
// as a bearer credential on the upgrade request.
func NewSlotSubscriber(wsURL, token string, logger *slog.Logger) *SlotSubscriber {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return &SlotSubscriber{
		url:       wsURL,
		header:    header,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

type slotNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Slot   uint64 `json:"slot"`
			Parent uint64 `json:"parent"`
			Root   uint64 `json:"root"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *responseError  `json:"error"`
}

// Run sends observed slots to out until ctx is canceled. Slots that arrive
// while out is full are dropped. It returns nil
// on cancellation; connection failures are logged and retried.
func (s *SlotSubscriber) Run(ctx context.Context, out chan<- uint64) error {
	s.logger.Info("slot subscription starting", slog.String("url", s.url))

	backoff := initialSubscribeBackoff

	for {
		received, err := s.subscribeOnce(ctx, out)
		if ctx.Err() != nil {
			return nil
		}

		if received {
			backoff = initialSubscribeBackoff
		}

		s.logger.Warn("slot subscription dropped, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)

		if sleepErr := s.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil
		}

		backoff = min(backoff*2, maxSubscribeBackoff)
	}
}

// subscribeOnce runs one connection until it fails. received reports whether
// at least one slot arrived, which resets the caller's backoff.
func (s *SlotSubscriber) subscribeOnce(ctx context.Context, out chan<- uint64) (received bool, err error) {
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: s.header}) //nolint:bodyclose // closed by the library on upgrade
	if err != nil {
		return false, fmt.Errorf("rpc: dialing %s: %w", s.url, err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, request{JSONRPC: jsonRPCVersion, ID: 1, Method: "slotSubscribe"}); err != nil {
		return false, fmt.Errorf("rpc: slotSubscribe: %w", err)
	}

	for {
		var msg slotNotification
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return received, fmt.Errorf("rpc: reading slot notification: %w", err)
		}

		if msg.Error != nil {
			return received, &Error{
				Method:  "slotSubscribe",
				Code:    msg.Error.Code,
				Message: msg.Error.Message,
				Err:     classifyCode(msg.Error.Code),
			}
		}

		if msg.Method != "slotNotification" {
			continue
		}

		received = true

		// Only the newest slot matters; never stall the socket on a busy reader.
		select {
		case out <- msg.Params.Result.Slot:
		default:
			s.logger.Debug("slot dropped, consumer busy", slog.Uint64("slot", msg.Params.Result.Slot))
		}
	}
}

// WebsocketURL derives the pubsub endpoint from an HTTP RPC URL: the scheme
// becomes ws/wss, and an explicit port is bumped by one as solana-validator
// serves pubsub on rpc port + 1.
func WebsocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("rpc: parsing %q: %w", httpURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		return u.String(), nil
	default:
		return "", fmt.Errorf("rpc: unsupported scheme %q in %q", u.Scheme, httpURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("rpc: parsing port in %q: %w", httpURL, err)
		}

		u.Host = u.Hostname() + ":" + strconv.Itoa(port+1)
	}

	return u.String(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
