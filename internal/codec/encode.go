package codec

import (
	"encoding/json"
	"fmt"

	"okxfeed/models"
)

const (
	// PingFrame is the literal liveness probe sent by the client.
	PingFrame = "ping"
	// PongFrame is the literal liveness reply sent by the server.
	PongFrame = "pong"

	loginMethod = "GET"
	loginPath   = "/users/self/verify"

	// DefaultMaxArgsPerFrame keeps subscribe frames well below the 64KB
	// request size limit OKX enforces.
	DefaultMaxArgsPerFrame = 100
)

// Op is an outbound request operation.
type Op string

const (
	OpLogin       Op = "login"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

type request struct {
	Op   Op  `json:"op"`
	Args any `json:"args"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type topicArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

// LoginMessage returns the canonical string that must be signed for a login
// at the given unix-seconds timestamp.
func LoginMessage(timestamp string) string {
	return timestamp + loginMethod + loginPath
}

// EncodeLogin builds the login frame. The signature is produced by the caller.
func EncodeLogin(creds models.Credentials, timestamp, sign string) ([]byte, error) {
	if creds.APIKey == "" || creds.Passphrase == "" {
		return nil, fmt.Errorf("encode login: %w", models.ErrNoCredentials)
	}
	return json.Marshal(request{
		Op: OpLogin,
		Args: []loginArg{{
			APIKey:     creds.APIKey,
			Passphrase: creds.Passphrase,
			Timestamp:  timestamp,
			Sign:       sign,
		}},
	})
}

// EncodeTopics builds subscribe or unsubscribe frames for keys, splitting
// them so no frame carries more than maxArgs topics.
func EncodeTopics(op Op, keys []models.SubscriptionKey, maxArgs int) ([][]byte, error) {
	if op != OpSubscribe && op != OpUnsubscribe {
		return nil, fmt.Errorf("encode topics: unsupported op %q", op)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if maxArgs <= 0 {
		maxArgs = DefaultMaxArgsPerFrame
	}

	frames := make([][]byte, 0, (len(keys)+maxArgs-1)/maxArgs)
	for start := 0; start < len(keys); start += maxArgs {
		end := start + maxArgs
		if end > len(keys) {
			end = len(keys)
		}
		args := make([]topicArg, 0, end-start)
		for _, k := range keys[start:end] {
			if err := k.Validate(); err != nil {
				return nil, fmt.Errorf("encode topics: %w", err)
			}
			args = append(args, toArg(k))
		}
		frame, err := json.Marshal(request{Op: op, Args: args})
		if err != nil {
			return nil, fmt.Errorf("encode topics: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func toArg(k models.SubscriptionKey) topicArg {
	arg := topicArg{Channel: string(k.Channel), InstID: k.InstID}
	switch k.Channel.Kind() {
	case models.KindOrder, models.KindPosition:
		// OKX requires instType on these channels; ANY covers every market.
		arg.InstType = "ANY"
	}
	return arg
}
