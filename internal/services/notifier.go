package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/logger"
)

// Notifier delivers one-time codes and reset links out of band.
type Notifier interface {
	SendOTP(ctx context.Context, email, phone, code string) error
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogNotifier stands in for the email and SMS gateways. It records that a
// delivery happened without logging the secret itself.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOTP(_ context.Context, email, phone, _ string) error {
	n.logger.Info("OTP delivery queued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("phone", logger.MaskPhone(phone)),
	)
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, _ string) error {
	n.logger.Info("Password reset link queued", zap.String("email", logger.MaskEmail(email)))
	return nil
}
