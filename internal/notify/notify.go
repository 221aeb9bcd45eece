// Package notify is the boundary to the email service. This core only
// guarantees a message was handed over with the right content, not delivery.
package notify

import (
	"context"
	"log/slog"
)

type ConfirmationEmail struct {
	OrderID     string `json:"order_id"`
	Email       string `json:"email"`
	OrderNumber int    `json:"order_number"`
	TotalCents  int64  `json:"total_cents"`
	ItemCount   int    `json:"item_count"`
}

type RecoveryEmail struct {
	CartID    string `json:"cart_id"`
	Email     string `json:"email"`
	ItemCount int    `json:"item_count"`
}

type Sender interface {
	SendOrderConfirmation(ctx context.Context, msg ConfirmationEmail) error
	SendCartRecovery(ctx context.Context, msg RecoveryEmail) error
}

// LogSender stands in when no delivery backend is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *LogSender) SendOrderConfirmation(_ context.Context, msg ConfirmationEmail) error {
	s.logger().Info("order confirmation email",
		"order_id", msg.OrderID, "email", msg.Email, "order_number", msg.OrderNumber)
	return nil
}

func (s *LogSender) SendCartRecovery(_ context.Context, msg RecoveryEmail) error {
	s.logger().Info("cart recovery email", "cart_id", msg.CartID, "email", msg.Email)
	return nil
}
