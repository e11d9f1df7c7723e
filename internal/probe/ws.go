package probe

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"
)

// WSDialer opens probe side channels over websocket. A bare host:port
// address is dialed as ws://.
type WSDialer struct{}

func (WSDialer) DialChannel(ctx context.Context, address string) (Channel, error) {
	url := address
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
