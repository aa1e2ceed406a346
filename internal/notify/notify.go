// Package notify abstracts the channel the reconciliation engine alerts
// humans on: plain messages for "no race matches" and interactive select
// prompts for disambiguation.
package notify

import (
	"context"
	"errors"
)

// ErrNoChannel means the destination channel is not configured. Callers
// treat it as a configuration error and back off instead of busy-retrying.
var ErrNoChannel = errors.New("notification channel not configured")

type SelectOption struct {
	// Value is passed back verbatim when a human picks this option.
	Value string
	Label string
}

type Channel interface {
	// Say posts a plain message and returns its identity.
	Say(ctx context.Context, channelID, text string) (string, error)
	// SelectPrompt posts a message with a single-choice select menu and
	// returns its identity. The selection itself is handled by whoever owns
	// the customID; the caller only records the message.
	SelectPrompt(ctx context.Context, channelID, text, customID string, options []SelectOption) (string, error)
}
