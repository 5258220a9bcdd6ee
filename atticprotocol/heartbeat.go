package atticprotocol

import (
	"context"
	"errors"
	"time"
)

// heartbeat pings the server every HeartbeatInterval while sess is open.
// A cycle is skipped while another request holds the slot, since a long
// command would otherwise look like a dead server. When the last pong is
// older than HeartbeatStaleAfter the connection-lost handler runs once and
// the heartbeat stops; the connection itself is left to the handler.
// While an earlier ping or request is still owed a reply no new ping is
// sent, because its answer could not be told apart from the late one.
func (c *Client) heartbeat(sess *session) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
		}

		if !sess.awaitingLate() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.HeartbeatPingTimeout)
			_, err := c.exchange(ctx, sess, "ping", true, false)
			cancel()

			switch {
			case errors.Is(err, errSlotBusy):
				continue
			case IsConnectionError(err):
				return
			case err != nil:
				c.log.Debug("heartbeat ping failed", "error", err)
			}
		}

		sess.mu.Lock()
		age := time.Since(sess.lastPong)
		sess.mu.Unlock()

		if age > c.opts.HeartbeatStaleAfter {
			c.connectionLost(sess, age)
			return
		}
	}
}

func (c *Client) connectionLost(sess *session, age time.Duration) {
	sess.lostOnce.Do(func() {
		c.log.Warn("server stopped answering heartbeats", "path", sess.path, "last_pong_age", age)

		c.mu.Lock()
		handler := c.lostHandler
		c.mu.Unlock()
		if handler != nil {
			handler(ErrConnectionLost)
		}
	})
}
