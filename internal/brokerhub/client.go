package brokerhub

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/avdsystems/ingestor/internal/ingestconfig"
)

// Handler processes one decoded message for a topic.
type Handler func(topic string, payload any)

type subscription struct {
	topic    string
	deviceID string // "" means wildcard: matches any device
	handler  Handler
	qos      byte
}

// client owns one physical MQTT connection and fans incoming messages
// out to a bounded worker pool, mirroring mqtt_hub.py's SingleClient
// and its ThreadPoolExecutor.
type client struct {
	conn ingestconfig.BrokerConn

	mqtt mqtt.Client

	mu   sync.Mutex
	subs []subscription

	jobs    chan job
	workers int
	wg      sync.WaitGroup
}

type job struct {
	handler Handler
	topic   string
	payload any
}

func newClient(conn ingestconfig.BrokerConn) (*client, error) {
	workers := conn.Workers
	if workers <= 0 {
		workers = 4
	}
	clientID := fmt.Sprintf("%s_%s", conn.ClientIDPrefix, uuid.New().String()[:8])

	c := &client{
		conn:    conn,
		jobs:    make(chan job, 256),
		workers: workers,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if conn.CACertPath != "" {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, conn.Host, conn.Port))
	opts.SetClientID(clientID)
	opts.SetKeepAlive(secondsOrDefault(conn.KeepaliveSecs))
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[BROKERHUB] connection lost to %s: %v", conn.Host, err)
	})

	if conn.Username != "" {
		opts.SetUsername(conn.Username)
		opts.SetPassword(conn.Password)
	}
	if conn.CACertPath != "" {
		tlsCfg, err := tlsConfigFromCA(conn.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	c.mqtt = mqtt.NewClient(opts)
	return c, nil
}

func secondsOrDefault(s int) int {
	if s <= 0 {
		return 60
	}
	return s
}

func tlsConfigFromCA(path string) (*tls.Config, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca cert %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %q", path)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c *client) start() error {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	token := c.mqtt.Connect()
	token.Wait()
	return token.Error()
}

func (c *client) stop() {
	if c.mqtt.IsConnected() {
		c.mqtt.Disconnect(250)
	}
	close(c.jobs)
	c.wg.Wait()
}

func (c *client) worker() {
	defer c.wg.Done()
	for j := range c.jobs {
		j.handler(j.topic, j.payload)
	}
}

// addSub registers a handler and subscribes immediately. deviceID of
// "" or "*" is treated as a wildcard subscription.
func (c *client) addSub(topic, deviceID string, handler Handler, qos byte) {
	if deviceID == "*" {
		deviceID = ""
	}
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, deviceID: deviceID, handler: handler, qos: qos})
	c.mu.Unlock()

	c.mqtt.Subscribe(topic, qos, c.onMessage)
}

// publish sends payload to topic at qos and waits for broker ack.
func (c *client) publish(topic string, qos byte, payload []byte) error {
	token := c.mqtt.Publish(topic, qos, false, payload)
	token.Wait()
	return token.Error()
}

// clear unsubscribes every topic and drops all handlers.
func (c *client) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		c.mqtt.Unsubscribe(s.topic)
	}
	c.subs = nil
}

func (c *client) onConnect(_ mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		c.mqtt.Subscribe(s.topic, s.qos, c.onMessage)
	}
}

func (c *client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	data := decodePayload(msg.Payload())
	incoming := deviceFromPayload(data)

	c.mu.Lock()
	handlers := selectHandlers(c.subs, topic, incoming)
	c.mu.Unlock()

	for _, h := range handlers {
		select {
		case c.jobs <- job{handler: h, topic: topic, payload: data}:
		default:
			log.Printf("[BROKERHUB] worker queue full, dropping message: topic=%s", topic)
		}
	}
}

// selectHandlers finds every subscription whose topic filter matches
// topic and whose deviceID is either wildcard ("") or equal to
// incoming, then applies mqtt_hub.py's suppression rule: if any
// specific-device handler matched, wildcard handlers are dropped so
// the specific handler is the sole recipient.
func selectHandlers(subs []subscription, topic, incoming string) []Handler {
	type matched struct {
		handler Handler
		device  string
	}
	var matches []matched
	for _, s := range subs {
		if !topicFilterMatches(s.topic, topic) {
			continue
		}
		if s.deviceID == "" || s.deviceID == incoming {
			matches = append(matches, matched{handler: s.handler, device: s.deviceID})
		}
	}

	hasSpecific := false
	for _, m := range matches {
		if m.device != "" {
			hasSpecific = true
			break
		}
	}

	handlers := make([]Handler, 0, len(matches))
	for _, m := range matches {
		if hasSpecific && m.device == "" {
			continue
		}
		handlers = append(handlers, m.handler)
	}
	return handlers
}

// decodePayload tries JSON first, then YAML, falling back to the raw
// string. Mirrors mqtt_hub.py's _on_message decode fallback chain.
func decodePayload(raw []byte) any {
	var data any
	if err := json.Unmarshal(raw, &data); err == nil {
		return data
	}
	if err := yaml.Unmarshal(raw, &data); err == nil && data != nil {
		return data
	}
	return string(raw)
}

func deviceFromPayload(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := m["DeviceID"]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
