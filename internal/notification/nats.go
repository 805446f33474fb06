package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// DefaultNATSSubject is used when no subject is configured
const DefaultNATSSubject = "rollover.attempts"

// natsConn is the part of *nats.Conn the notifier uses
type natsConn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSNotifier publishes attempt events on a core NATS subject
type NATSNotifier struct {
	conn    natsConn
	subject string
}

// NewNATSNotifier connects to natsURL. An unreachable server is not an error:
// the connection keeps retrying in the background and publishes are
// buffered until it comes up.
func NewNATSNotifier(natsURL, subject string, timeout time.Duration) (*NATSNotifier, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	nc, err := nats.Connect(natsURL,
		nats.Name(EventSource),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(c *nats.Conn) {
			utils.ComponentLogger("notification").WithField("url", c.ConnectedUrlRedacted()).Info("NATS connected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				utils.ComponentLogger("notification").WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			utils.ComponentLogger("notification").WithField("url", c.ConnectedUrlRedacted()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to NATS", err.Error())
	}
	if !nc.IsConnected() {
		utils.ComponentLogger("notification").WithField("url", natsURL).Warn("NATS unreachable, retrying in the background")
	}

	return newNATSNotifier(nc, subject), nil
}

func newNATSNotifier(conn natsConn, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Name implements Notifier
func (n *NATSNotifier) Name() string {
	return "nats"
}

// Subject returns the subject attempts are published on
func (n *NATSNotifier) Subject() string {
	return n.subject
}

// Send implements Notifier. The message is flushed before returning.
func (n *NATSNotifier) Send(ctx context.Context, event *AttemptEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to marshal NATS payload", err.Error())
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.Attempt.ID)
	msg.Header.Set("Rollover-Status", string(event.Attempt.Status))

	if err := n.conn.PublishMsg(msg); err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to publish to NATS",
			fmt.Sprintf("%s: %v", n.subject, err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to flush NATS connection", err.Error())
	}
	return nil
}

// Close implements Notifier
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
