// Package recipients stores newsletter subscribers and lists them in the
// stable email order the scheduler's cursor relies on.
package recipients

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no subscriber has the email.
	ErrNotFound = errors.New("recipient not found")

	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email")
)

// Recipient is one subscriber and their preferences.
type Recipient struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Subscribed bool      `json:"subscribed"`
	Offsets    []int     `json:"offsets"`
	Categories []string  `json:"categories"`
	Timezone   string    `json:"timezone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the subscriber repository.
type Store interface {
	// Upsert creates or updates a subscriber keyed by email and marks them
	// subscribed.
	Upsert(ctx context.Context, r Recipient) (Recipient, error)
	Unsubscribe(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (Recipient, error)
	CountActive(ctx context.Context) (int, error)
	// ListActiveAfter returns up to limit subscribed recipients whose email
	// sorts after cursor, ordered by email.
	ListActiveAfter(ctx context.Context, cursor string, limit int) ([]Recipient, error)
}

// NormalizeEmail lowercases and trims an address and checks that it parses.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}
