package events

import (
	"context"
	"encoding/json"
	"fmt"

	"dx-bots/internal/ws"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Publisher interface {
	Publish(topic string, payload any)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type binaryEnvelope struct {
	Event string             `msgpack:"event"`
	Data  msgpack.RawMessage `msgpack:"data"`
}

// Feed turns frames from the exchange event stream into bus events.
type Feed struct {
	client *ws.Client
	bus    Publisher
	log    *zap.Logger
}

func NewFeed(client *ws.Client, bus Publisher, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{client: client, bus: bus, log: log}
}

func (f *Feed) Run(ctx context.Context) error {
	if err := f.client.Subscribe(ctx, map[string]any{"subscribe": []string{TopicAuctionCleared}}); err != nil {
		return err
	}
	return f.client.Run(ctx, f.handle)
}

func (f *Feed) handle(typ websocket.MessageType, data []byte) {
	topic, payload, err := Decode(typ, data)
	if err != nil {
		f.log.Warn("event frame decode failed", zap.Error(err))
		return
	}
	if topic == "" {
		return
	}
	f.log.Debug("event received", zap.String("topic", topic))
	f.bus.Publish(topic, payload)
}

// Decode parses a text (JSON) or binary (msgpack) event frame. Unknown
// topics decode to an empty topic and no error.
func Decode(typ websocket.MessageType, data []byte) (string, any, error) {
	var (
		event     string
		raw       []byte
		unmarshal func([]byte, any) error
	)
	switch typ {
	case websocket.MessageText:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return "", nil, fmt.Errorf("decode json frame: %w", err)
		}
		event, raw, unmarshal = env.Event, env.Data, json.Unmarshal
	case websocket.MessageBinary:
		var env binaryEnvelope
		if err := msgpack.Unmarshal(data, &env); err != nil {
			return "", nil, fmt.Errorf("decode msgpack frame: %w", err)
		}
		event, raw, unmarshal = env.Event, env.Data, msgpack.Unmarshal
	default:
		return "", nil, fmt.Errorf("unsupported frame type %v", typ)
	}

	switch event {
	case TopicAuctionCleared:
		var ev AuctionCleared
		if err := unmarshal(raw, &ev); err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", event, err)
		}
		if ev.SellToken == "" || ev.BuyToken == "" {
			return "", nil, fmt.Errorf("%s without tokens", event)
		}
		return event, ev, nil
	default:
		return "", nil, nil
	}
}
