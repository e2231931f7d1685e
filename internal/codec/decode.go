package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"okxfeed/models"
)

// Message is the outcome of decoding one inbound frame. A pong carries no
// events.
type Message struct {
	Pong   bool
	Events []models.Event
}

type envelope struct {
	Event  string          `json:"event"`
	Arg    *wireArg        `json:"arg"`
	Code   flexString      `json:"code"`
	Msg    string          `json:"msg"`
	ConnID string          `json:"connId"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type wireArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	UID      string `json:"uid"`
}

// flexString accepts both "0" and 0; OKX is inconsistent about code types.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(data)
	return nil
}

// IsPong reports whether the payload is the literal pong token.
func IsPong(data []byte) bool {
	return string(bytes.TrimSpace(data)) == PongFrame
}

// Decode turns one inbound text frame into events. A frame either yields all
// of its events or a *models.ParseError; partially parsed frames are never
// returned.
func Decode(data []byte, src models.Visibility, receivedAt time.Time) (Message, error) {
	if IsPong(data) {
		return Message{Pong: true}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &models.ParseError{Reason: "malformed json", Err: err}
	}

	hdr := models.Header{Source: src, ReceivedAt: receivedAt}
	switch {
	case env.Event != "":
		ev, err := decodeControl(&env, hdr)
		if err != nil {
			return Message{}, err
		}
		return Message{Events: []models.Event{ev}}, nil
	case env.Arg != nil && hasData(env.Data):
		events, err := decodeData(&env, hdr)
		if err != nil {
			return Message{}, err
		}
		return Message{Events: events}, nil
	default:
		return Message{}, &models.ParseError{Reason: "unrecognized frame shape"}
	}
}

func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeControl(env *envelope, hdr models.Header) (models.Event, error) {
	switch env.Event {
	case "subscribe", "unsubscribe":
		key, err := argKey(env.Arg)
		if err != nil {
			return nil, err
		}
		if env.Event == "subscribe" {
			return models.SubscribeAck{Header: hdr, Key: key, ConnID: env.ConnID}, nil
		}
		return models.UnsubscribeAck{Header: hdr, Key: key, ConnID: env.ConnID}, nil
	case "login":
		return models.LoginAck{Header: hdr, Code: string(env.Code), Msg: env.Msg, ConnID: env.ConnID}, nil
	case "error":
		return models.ProtocolError{Header: hdr, Code: string(env.Code), Msg: env.Msg, ConnID: env.ConnID}, nil
	case "notice":
		return models.Notice{Header: hdr, Code: string(env.Code), Msg: env.Msg}, nil
	default:
		return nil, &models.ParseError{Reason: "unknown event " + env.Event}
	}
}

func argKey(arg *wireArg) (models.SubscriptionKey, error) {
	if arg == nil {
		return models.SubscriptionKey{}, &models.ParseError{Reason: "ack without arg"}
	}
	ch, err := models.ParseChannel(arg.Channel)
	if err != nil {
		return models.SubscriptionKey{}, &models.ParseError{Reason: "unknown channel", Err: err}
	}
	return models.Key(ch, arg.InstID), nil
}

func decodeData(env *envelope, hdr models.Header) ([]models.Event, error) {
	ch, err := models.ParseChannel(env.Arg.Channel)
	if err != nil {
		return nil, &models.ParseError{Reason: "unknown channel", Err: err}
	}

	var events []models.Event
	switch ch.Kind() {
	case models.KindTicker:
		events, err = decodeTickers(env.Data, hdr)
	case models.KindCandle:
		events, err = decodeCandles(env.Data, env.Arg.InstID, ch.Interval(), hdr)
	case models.KindOrderBook:
		events, err = decodeBooks(env.Data, env.Arg.InstID, ch, env.Action, hdr)
	case models.KindTrade:
		events, err = decodeTrades(env.Data, hdr)
	case models.KindAccount:
		events, err = decodeAccounts(env.Data, hdr)
	case models.KindPosition:
		events, err = decodePositions(env.Data, hdr)
	case models.KindOrder:
		events, err = decodeOrders(env.Data, hdr)
	case models.KindBalanceAndPosition:
		events, err = decodeBalanceAndPosition(env.Data, hdr)
	default:
		return nil, &models.ParseError{Reason: "unhandled channel " + ch.String()}
	}
	if err != nil {
		return nil, &models.ParseError{Reason: ch.String() + " payload", Err: err}
	}
	return events, nil
}
