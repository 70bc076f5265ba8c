//go:build integration

package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ntfyContainerPort is the default port exposed by the ntfy container.
const ntfyContainerPort = "80/tcp"

// NtfyContainer wraps an ntfy server used as a push channel target.
type NtfyContainer struct {
	container   testcontainers.Container
	host        string
	port        int
	authEnabled bool
}

// NtfyConfig holds configuration for ntfy container creation.
type NtfyConfig struct {
	// ImageTag for binwiederhier/ntfy (default: "latest")
	ImageTag string
	// EnableAuth enables authentication with deny-all default access
	EnableAuth bool
}

// DefaultNtfyConfig returns an NtfyConfig with sensible defaults.
func DefaultNtfyConfig() NtfyConfig {
	return NtfyConfig{
		ImageTag:   "latest",
		EnableAuth: false,
	}
}

// NtfyMessage represents a message received from an ntfy topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
	Title   string `json:"title"`
	Time    int64  `json:"time"`
}

// NewNtfyContainer creates and starts an ntfy push notification server container.
// If config is nil, uses DefaultNtfyConfig().
func NewNtfyContainer(ctx context.Context, config *NtfyConfig) (*NtfyContainer, error) {
	if config == nil {
		defaultCfg := DefaultNtfyConfig()
		config = &defaultCfg
	}

	image := fmt.Sprintf("binwiederhier/ntfy:%s", config.ImageTag)

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{ntfyContainerPort},
		Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
		WaitingFor: wait.ForHTTP("/v1/health").
			WithPort("80/tcp").
			WithStartupTimeout(30 * time.Second),
	}

	if config.EnableAuth {
		req.Env = map[string]string{
			"NTFY_AUTH_FILE":           "/tmp/ntfy/auth.db",
			"NTFY_AUTH_DEFAULT_ACCESS": "deny-all",
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "80")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	nc := &NtfyContainer{
		container:   container,
		host:        host,
		port:        mappedPort.Int(),
		authEnabled: config.EnableAuth,
	}

	return nc, nil
}

// GetHost returns the host:port string where the ntfy server is accessible.
func (c *NtfyContainer) GetHost(_ context.Context) string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// GetURL returns the full HTTP URL for the ntfy server.
func (c *NtfyContainer) GetURL(_ context.Context) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(c.host, strconv.Itoa(c.port)))
}

// AddUser creates a regular user. Requires EnableAuth.
func (c *NtfyContainer) AddUser(ctx context.Context, username, password string) error {
	return c.ntfyCLI(ctx, []string{"ntfy", "user", "add", username}, tcexec.WithEnv([]string{"NTFY_PASSWORD=" + password}))
}

// GrantAccess sets a user's permission ("ro", "wo" or "rw") on a topic.
func (c *NtfyContainer) GrantAccess(ctx context.Context, username, topic, permission string) error {
	return c.ntfyCLI(ctx, []string{"ntfy", "access", username, topic, permission})
}

func (c *NtfyContainer) ntfyCLI(ctx context.Context, cmd []string, opts ...tcexec.ProcessOption) error {
	if !c.authEnabled {
		return fmt.Errorf("%s: authentication is not enabled", strings.Join(cmd[:2], " "))
	}
	exitCode, output, err := c.container.Exec(ctx, cmd, opts...)
	if err != nil {
		return fmt.Errorf("failed to exec %s: %w", strings.Join(cmd[:2], " "), err)
	}
	if exitCode != 0 {
		out, _ := io.ReadAll(output)
		return fmt.Errorf("%s failed with exit code %d: %s", strings.Join(cmd[:2], " "), exitCode, string(out))
	}
	return nil
}

// PollMessages returns the cached messages of a topic. Credentials are
// optional and only sent when user is set.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string, basicAuth ...string) ([]NtfyMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GetURL(ctx)+"/"+topic+"/json?poll=1", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(basicAuth) == 2 && basicAuth[0] != "" {
		req.SetBasicAuth(basicAuth[0], basicAuth[1])
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// one JSON object per line
	var messages []NtfyMessage
	for line := range strings.SplitSeq(strings.TrimSpace(string(body)), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse message JSON: %w", err)
		}
		if msg.ID == "" && msg.Message == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// HealthCheck performs a health check on the ntfy server by pinging /v1/health.
func (c *NtfyContainer) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/health", c.GetURL(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Terminate stops and removes the ntfy container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}
