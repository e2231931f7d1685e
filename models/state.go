package models

import "fmt"

// ConnectionState is the lifecycle state of one logical connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Credentials authenticate the private connection. Only the signer looks at
// Secret.
type Credentials struct {
	APIKey     string `yaml:"api_key"`
	Secret     string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
}

// IsZero reports whether no credentials were configured.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.Secret == "" && c.Passphrase == ""
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// String redacts everything but a short key prefix so credentials can be
// passed to the logger safely.
func (c Credentials) String() string {
	key := c.APIKey
	if len(key) > 4 {
		key = key[:4] + "…"
	}
	return fmt.Sprintf("Credentials{APIKey:%s Secret:*** Passphrase:***}", key)
}
