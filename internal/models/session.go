package models

import "time"

// Session is one device seen on a successful login.
type Session struct {
	DeviceFingerprint string    `bson:"device_fingerprint" json:"deviceFingerprint"`
	LastActive        time.Time `bson:"last_active" json:"lastActive"`
	UserAgent         string    `bson:"user_agent" json:"userAgent"`
	IPAddress         string    `bson:"ip" json:"ip"`
}
