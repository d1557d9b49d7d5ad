// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package notify delivers account notifications such as verification codes.
//
// Notifier implementations:
//   - SMTPNotifier - sends mail through an SMTP relay with bounded retries
//   - LogNotifier - writes messages to the log, for development
//   - Outbox - keeps messages in memory, for tests
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Message is a plain-text notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends a message to its recipient.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SignupApproval builds the notice sent to the administrator when someone
// requests an account.
func SignupApproval(admin, applicant, code string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A new account was requested for %s.\n\n", applicant)
	fmt.Fprintf(&b, "Verification code: %s\n\n", code)
	fmt.Fprintf(&b, "The code expires in %s. Share it with the applicant only if the request is legitimate.\n", formatTTL(ttl))
	return Message{
		To:      admin,
		Subject: "New user verification - ServiAutos",
		Body:    b.String(),
	}
}

// PasswordReset builds the notice sent to an account holder who asked to
// reset their password.
func PasswordReset(to, code string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your password reset code is %s.\n\n", code)
	fmt.Fprintf(&b, "The code expires in %s. If you did not ask for a reset, ignore this message.\n", formatTTL(ttl))
	return Message{
		To:      to,
		Subject: "Password reset - ServiAutos",
		Body:    b.String(),
	}
}

func formatTTL(ttl time.Duration) string {
	if ttl%time.Minute == 0 {
		minutes := int(ttl / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return ttl.String()
}

// Outbox is an in-memory Notifier. It records every message and fails with
// Err when set.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Send records msg, or returns the configured failure.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("to", msg.To).Wrap(o.err)
	}
	o.messages = append(o.messages, msg)
	return nil
}

// FailWith makes subsequent sends fail with err. A nil err restores delivery.
func (o *Outbox) FailWith(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Last returns the most recent message.
func (o *Outbox) Last() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return Message{}, false
	}
	return o.messages[len(o.messages)-1], true
}
