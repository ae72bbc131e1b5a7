package alert

import (
	"github.com/avdsystems/ingestor/internal/brokerhub"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
)

// HubPublisher adapts a brokerhub.Hub connection to the Publisher
// interface, so the monitor can republish alerts over the same pool
// used for subscriptions.
type HubPublisher struct {
	Hub  *brokerhub.Hub
	Conn ingestconfig.BrokerConn
}

func (p HubPublisher) Publish(topic string, qos byte, payload []byte) error {
	return p.Hub.Publish(p.Conn, topic, qos, payload)
}
