package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/auctionhouse/internal/config"
	"github.com/nugget/auctionhouse/internal/telemetry"
)

// Bridge subscribes to a telemetry.Bus and republishes every event as
// JSON to the broker under <topic_prefix>/<sessionId>/events. It
// publishes a birth/will availability message on connect/disconnect.
type Bridge struct {
	cfg       config.MQTTConfig
	sessionID int
	dataDir   string
	bus       *telemetry.Bus
	logger    *slog.Logger
	cm        *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Run] to begin
// the connection and export loop. A nil logger is replaced with
// [slog.Default]. dataDir is where the bridge persists its stable MQTT
// client id across restarts (see [LoadOrCreateInstanceID]); it is
// consulted only when cfg.ClientID is unset.
func New(cfg config.MQTTConfig, sessionID int, dataDir string, bus *telemetry.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, sessionID: sessionID, dataDir: dataDir, bus: bus, logger: logger}
}

// Run connects to the broker and republishes telemetry events until ctx
// is cancelled or the bus has no more events to deliver. It is a no-op
// if the bridge has no configured broker.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.cfg.Configured() {
		return nil
	}

	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()
	clientID := b.cfg.ClientID
	if clientID == "" {
		id, err := LoadOrCreateInstanceID(b.dataDir)
		if err != nil {
			return fmt.Errorf("mqtt client id: %w", err)
		}
		clientID = "auctionhouse-" + id[:8]
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.BrokerURL)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.publishAvailability(publishCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	sub := b.bus.Subscribe(64)
	defer b.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			b.publishAvailability(context.Background(), cm, "offline")
			return cm.Disconnect(context.Background())
		case event, ok := <-sub:
			if !ok {
				return nil
			}
			b.publishEvent(ctx, cm, event)
		}
	}
}

func (b *Bridge) publishEvent(ctx context.Context, cm *autopaho.ConnectionManager, e telemetry.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("mqtt marshal event", "error", err)
		return
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.eventsTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  false,
	}); err != nil {
		b.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

func (b *Bridge) baseTopic() string {
	return b.cfg.TopicPrefix + "/" + strconv.Itoa(b.sessionID)
}

func (b *Bridge) eventsTopic() string       { return b.baseTopic() + "/events" }
func (b *Bridge) availabilityTopic() string { return b.baseTopic() + "/availability" }
