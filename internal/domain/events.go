package domain

import "fmt"

// Event is the vocabulary of operator-facing state transitions.
type Event string

const (
	EventStartupConnectFailure Event = "STARTUP_CONNECT_FAILURE"
	EventStartupConnectSuccess Event = "STARTUP_CONNECT_SUCCESS"
	EventMediaServerOffline    Event = "MEDIA_SERVER_OFFLINE"
	EventMediaServerOnline     Event = "MEDIA_SERVER_ONLINE"
	EventWSConnUnhealthy       Event = "WS_CONN_UNHEALTHY"
	EventWSConnHealthy         Event = "WS_CONN_HEALTHY"
)

// HostType labels which kind of host an alert refers to.
type HostType string

const (
	HostTypeMediaServer HostType = "MediaServer"
	HostTypeCallControl HostType = "CallControl"
)

// AlertText renders the alert line delivered to the webhook endpoint.
func AlertText(localID string, ev Event, ht HostType, ep Endpoint) string {
	return fmt.Sprintf("%s triggered %s for %s %s %s", localID, ev, ht, ep.URL, ep.Address)
}
