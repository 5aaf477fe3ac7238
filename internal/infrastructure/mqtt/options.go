package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearthlab/hearth-core/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	publishTimeout      = 5 * time.Second
	disconnectQuiesceMs = 1000
	keepAlive           = 60 * time.Second

	maxQoS = 2
)

// Presence protocol vocabulary, published retained on the system status
// topic. Integrations key off status; reason distinguishes a clean stop
// from a crash surfaced by the broker's last-will.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown       = "shutdown"
	reasonLostConnection = "lost_connection"
)

// presenceMessage is the JSON body on the system status topic.
type presenceMessage struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
	At       string `json:"at"`
}

// presencePayload renders a presence message. reason is empty for
// online.
func presencePayload(clientID, status, reason string) []byte {
	body, err := json.Marshal(presenceMessage{
		Status:   status,
		ClientID: clientID,
		Reason:   reason,
		At:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Marshalling a struct of strings cannot fail; keep the protocol
		// alive anyway.
		return []byte(`{"status":"` + status + `"}`)
	}
	return body
}

// clientOptions maps the mqtt section of config.yaml onto paho options.
// Reconnection is paho's job: auto-reconnect with the configured
// backoff bounds, retrying the initial connect as well.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean sessions: the client restores its own subscriptions, so a
	// persistent broker session would only replay stale traffic.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	return opts
}
