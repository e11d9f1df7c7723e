package domain

import "errors"

// Supervision errors. All of them are recovered locally by retry or
// reconnection scheduling; none escape the supervisor. Their only externally
// visible effect is a deduplicated alert.
var (
	// ErrConnect reports a handshake or transport failure while dialing.
	ErrConnect = errors.New("connect failed")

	// ErrTimeout reports that the failover timeout won the connect race.
	ErrTimeout = errors.New("failover timeout elapsed")

	// ErrProbe reports a liveness ping that failed, timed out, or whose
	// channel closed before a matching pong arrived.
	ErrProbe = errors.New("liveness probe failed")

	// ErrAuth reports a rejected call-control handshake.
	ErrAuth = errors.New("authentication rejected")
)
