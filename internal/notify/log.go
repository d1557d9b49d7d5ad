// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to a logger instead of delivering them.
// The body is logged at debug level so codes stay out of production logs.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs msg. It never fails.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification", "to", msg.To, "subject", msg.Subject)
	n.logger.DebugContext(ctx, "notification body", "to", msg.To, "body", msg.Body)
	return nil
}
