package supervisor

import (
	"fmt"

	"okxfeed/models"
)

// Trigger is an input to the connection state machine.
type Trigger int

const (
	TriggerConnect Trigger = iota
	TriggerDialOK
	// TriggerDialFailed is a failed first dial of an episode.
	TriggerDialFailed
	// TriggerRedialFailed is a failed dial while reconnecting.
	TriggerRedialFailed
	TriggerStale
	TriggerSocketClosed
	TriggerLoginTimeout
	TriggerAuthFailed
	TriggerBackoffElapsed
	TriggerAttemptsExhausted
	TriggerDisconnect
)

func (t Trigger) String() string {
	switch t {
	case TriggerConnect:
		return "connect"
	case TriggerDialOK:
		return "dial_ok"
	case TriggerDialFailed:
		return "dial_failed"
	case TriggerRedialFailed:
		return "redial_failed"
	case TriggerStale:
		return "stale"
	case TriggerSocketClosed:
		return "socket_closed"
	case TriggerLoginTimeout:
		return "login_timeout"
	case TriggerAuthFailed:
		return "auth_failed"
	case TriggerBackoffElapsed:
		return "backoff_elapsed"
	case TriggerAttemptsExhausted:
		return "attempts_exhausted"
	case TriggerDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

type edge struct {
	from    models.ConnectionState
	trigger Trigger
}

var transitions = map[edge]models.ConnectionState{
	{models.Disconnected, TriggerConnect}: models.Connecting,
	{models.Failed, TriggerConnect}:       models.Connecting,

	{models.Connecting, TriggerDialOK}:       models.Connected,
	{models.Connecting, TriggerDialFailed}:   models.Failed,
	{models.Connecting, TriggerRedialFailed}: models.Reconnecting,

	{models.Connected, TriggerStale}:        models.Reconnecting,
	{models.Connected, TriggerSocketClosed}: models.Reconnecting,
	{models.Connected, TriggerLoginTimeout}: models.Reconnecting,
	{models.Connected, TriggerAuthFailed}:   models.Failed,

	{models.Reconnecting, TriggerBackoffElapsed}:    models.Connecting,
	{models.Reconnecting, TriggerAttemptsExhausted}: models.Failed,
}

// Transition returns the state reached from `from` on trigger t. Disconnect
// is accepted from every state; any other pair not in the table is an
// *models.InternalError.
func Transition(from models.ConnectionState, t Trigger) (models.ConnectionState, error) {
	if t == TriggerDisconnect {
		return models.Disconnected, nil
	}
	to, ok := transitions[edge{from, t}]
	if !ok {
		return from, &models.InternalError{Msg: fmt.Sprintf("no transition from %s on %s", from, t)}
	}
	return to, nil
}
