package alerting

import (
	"context"
	"slices"

	"github.com/hydrowatch/alertengine/internal/conf"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

// Recipient is one addressable person.
type Recipient struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Webhook string
}

// Address returns the recipient's address on channel, or "" when unknown.
// Bell notifications address the recipient by ID.
func (r Recipient) Address(channel string) string {
	switch channel {
	case entities.NotifyTypeEmail:
		return r.Email
	case entities.NotifyTypeSMS:
		return r.Phone
	case entities.NotifyTypeWebhook:
		return r.Webhook
	case entities.NotifyTypeBell:
		return r.ID
	default:
		return ""
	}
}

// RecipientDirectory expands an action's recipient reference into people.
type RecipientDirectory interface {
	Resolve(ctx context.Context, kind, id string) ([]Recipient, error)
}

// StaticDirectory is a RecipientDirectory backed by configuration.
type StaticDirectory struct {
	users       map[string]conf.Recipient
	departments map[string][]string
}

// NewStaticDirectory creates a directory from the notification settings.
func NewStaticDirectory(settings conf.NotificationSettings) *StaticDirectory {
	return &StaticDirectory{users: settings.Users, departments: settings.Departments}
}

// Resolve returns the user, or every known member of the department in
// configured order. Unknown members are skipped.
func (d *StaticDirectory) Resolve(_ context.Context, kind, id string) ([]Recipient, error) {
	switch kind {
	case entities.RecipientKindUser, "":
		u, ok := d.users[id]
		if !ok {
			return nil, d.notFound("user", id)
		}
		return []Recipient{toRecipient(id, u)}, nil
	case entities.RecipientKindDepartment:
		members, ok := d.departments[id]
		if !ok {
			return nil, d.notFound("department", id)
		}
		out := make([]Recipient, 0, len(members))
		for _, m := range slices.Compact(slices.Clone(members)) {
			if u, ok := d.users[m]; ok {
				out = append(out, toRecipient(m, u))
			}
		}
		return out, nil
	default:
		return nil, errors.Newf("unknown recipient kind %q", kind).
			Component("recipient-directory").
			Category(errors.CategoryValidation).
			Build()
	}
}

func (d *StaticDirectory) notFound(kind, id string) error {
	return errors.Newf("%s %q not found", kind, id).
		Component("recipient-directory").
		Category(errors.CategoryNotFound).
		Context("recipient_id", id).
		Build()
}

func toRecipient(id string, u conf.Recipient) Recipient {
	name := u.Name
	if name == "" {
		name = id
	}
	return Recipient{ID: id, Name: name, Email: u.Email, Phone: u.Phone, Webhook: u.Webhook}
}
