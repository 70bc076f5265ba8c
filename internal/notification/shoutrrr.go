package notification

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/hydrowatch/alertengine/internal/errors"
)

const defaultProviderTimeout = 30 * time.Second

// ShoutrrrProvider sends notifications to one or more shoutrrr service URLs.
type ShoutrrrProvider struct {
	name    string
	enabled bool
	urls    []string
	types   []Type
	timeout time.Duration
}

// NewShoutrrrProvider creates a provider. An empty types list accepts every
// notification type.
func NewShoutrrrProvider(name string, enabled bool, urls []string, filter []Type, timeout time.Duration) *ShoutrrrProvider {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &ShoutrrrProvider{
		name:    name,
		enabled: enabled,
		urls:    slices.Clone(urls),
		types:   slices.Clone(filter),
		timeout: timeout,
	}
}

// GetName returns the provider name.
func (p *ShoutrrrProvider) GetName() string { return p.name }

// IsEnabled reports whether the provider is enabled.
func (p *ShoutrrrProvider) IsEnabled() bool { return p.enabled }

// Accepts reports whether the provider sends notifications of type t.
func (p *ShoutrrrProvider) Accepts(t Type) bool {
	return len(p.types) == 0 || slices.Contains(p.types, t)
}

// ValidateConfig checks that every URL names a known shoutrrr service.
func (p *ShoutrrrProvider) ValidateConfig() error {
	if !p.enabled {
		return nil
	}
	if len(p.urls) == 0 {
		return p.configError(fmt.Errorf("no service URLs configured"))
	}
	for _, u := range p.urls {
		if _, err := shoutrrr.CreateSender(u); err != nil {
			return p.configError(fmt.Errorf("invalid service URL: %w", err))
		}
	}
	return nil
}

func (p *ShoutrrrProvider) configError(err error) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryConfiguration).
		Context("provider", p.name).
		Build()
}

// Send delivers n to every URL. It fails when any service reports an error
// or the timeout expires first.
func (p *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if !p.enabled {
		return nil
	}
	sender, err := shoutrrr.CreateSender(p.urls...)
	if err != nil {
		return p.configError(err)
	}
	sender.Timeout = p.timeout

	params := types.Params{}
	if n.Title != "" {
		params["title"] = n.Title
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan []error, 1)
	go func() {
		done <- sender.Send(n.Message, &params)
	}()

	select {
	case errs := <-done:
		var sendErrs []error
		for _, e := range errs {
			if e != nil {
				sendErrs = append(sendErrs, e)
			}
		}
		if len(sendErrs) > 0 {
			return errors.New(errors.Join(sendErrs...)).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", p.name).
				Build()
		}
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("send via %s: %w", p.name, ctx.Err())).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("provider", p.name).
			Build()
	}
}
