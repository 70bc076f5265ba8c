//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const anonymousMosquittoConf = `listener 1883
allow_anonymous true
`

// MosquittoContainer wraps an Eclipse Mosquitto broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// MosquittoConfig configures the broker container.
type MosquittoConfig struct {
	ImageTag string
}

// DefaultMosquittoConfig returns the default configuration.
func DefaultMosquittoConfig() MosquittoConfig {
	return MosquittoConfig{ImageTag: "2.0"}
}

// NewMosquittoContainer starts a broker accepting anonymous clients.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	if config == nil {
		cfg := DefaultMosquittoConfig()
		config = &cfg
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + config.ImageTag,
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-test.conf"},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(anonymousMosquittoConf),
			ContainerFilePath: "/mosquitto-test.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "1883")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	mc := &MosquittoContainer{
		container: c,
		brokerURL: "tcp://" + net.JoinHostPort(host, port.Port()),
	}
	if err := mc.HealthCheck(ctx); err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	return mc, nil
}

// GetBrokerURL returns the tcp:// broker URL.
func (c *MosquittoContainer) GetBrokerURL(t *testing.T) string {
	t.Helper()
	if c.brokerURL == "" {
		t.Fatal("broker URL is empty")
	}
	return c.brokerURL
}

// HealthCheck connects and disconnects a throwaway client.
func (c *MosquittoContainer) HealthCheck(_ context.Context) error {
	client, err := c.CreateClient("healthcheck", func(o *mqtt.ClientOptions) {
		o.SetAutoReconnect(false)
	})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	client.Disconnect(250)
	return nil
}

// CreateClient returns a connected client. The caller disconnects it.
func (c *MosquittoContainer) CreateClient(clientID string, opts ...func(*mqtt.ClientOptions)) (mqtt.Client, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(c.brokerURL)
	o.SetClientID(clientID)
	o.SetConnectTimeout(10 * time.Second)
	for _, opt := range opts {
		opt(o)
	}

	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Terminate removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
