package middleware

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/loanhub-backend/pkg/clientip"
)

// OTP routes: 1 request per 20s per IP, burst 3. This caps both SMS/email
// spend on send-otp and brute force on verify-otp across accounts; the
// per-account attempt cap lives in the OTP manager.
const (
	otpRateLimitEvery = 20 * time.Second
	otpRateLimitBurst = 3
)

var otpPaths = []string{
	"/api/auth/send-otp",
	"/api/auth/verify-otp",
}

func NewOTPRateLimit(resolveIP clientip.Resolver) *IPRateLimiter {
	return NewIPRateLimiter(rate.Every(otpRateLimitEvery), otpRateLimitBurst, resolveIP,
		"Too many OTP requests. Please try again later.", otpPaths...)
}
