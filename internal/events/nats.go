package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/models"
)

func connect(url, name string, log logrus.FieldLogger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes dispatches as JSON on <prefix>.<action type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    logrus.FieldLogger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, logger logrus.FieldLogger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.WithField("component", "nats-publisher")

	nc, err := connect(url, "nimbus-server", log)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, prefix: prefix, log: log}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, dispatch models.InstanceDispatch) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(dispatch)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch: %w", err)
	}

	subject := Subject(p.prefix, dispatch.Type)
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	p.log.WithField("subject", subject).Debug("dispatch published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// NATSSubscriber receives dispatches published by a NATSPublisher.
type NATSSubscriber struct {
	nc     *nats.Conn
	prefix string
	log    logrus.FieldLogger
}

// NewNATSSubscriber connects to the NATS server at url.
func NewNATSSubscriber(url, prefix string, logger logrus.FieldLogger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.WithField("component", "nats-subscriber")

	nc, err := connect(url, "nimbus-console", log)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{nc: nc, prefix: prefix, log: log}, nil
}

// Events subscribes to every dispatch under the prefix. The returned
// channel is closed once ctx is done.
func (s *NATSSubscriber) Events(ctx context.Context) (<-chan models.InstanceDispatch, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanSubscribe(Subject(s.prefix, ">"), msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.InstanceDispatch)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				dispatch, err := decodeDispatch(msg.Data)
				if err != nil {
					s.log.WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed dispatch")
					continue
				}
				select {
				case out <- dispatch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the connection.
func (s *NATSSubscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func decodeDispatch(data []byte) (models.InstanceDispatch, error) {
	var dispatch models.InstanceDispatch
	if err := json.Unmarshal(data, &dispatch); err != nil {
		return dispatch, err
	}
	if dispatch.Type == "" {
		return dispatch, fmt.Errorf("dispatch without type")
	}
	return dispatch, nil
}
