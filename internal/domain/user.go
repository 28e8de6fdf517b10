package domain

import "time"

// RiskProfile coarsely classifies how aggressively a user runs their
// positions; it only affects default alerting behavior.
type RiskProfile string

const (
	RiskProfileConservative RiskProfile = "conservative"
	RiskProfileModerate     RiskProfile = "moderate"
	RiskProfileAggressive   RiskProfile = "aggressive"
)

// NotificationChannel identifies one delivery channel for alerts.
type NotificationChannel string

const (
	ChannelTelegram NotificationChannel = "telegram"
	ChannelEmail    NotificationChannel = "email"
	ChannelInApp    NotificationChannel = "in_app"
)

// AlertThresholds holds per-user overrides for alert trigger points.
type AlertThresholds struct {
	HealthFactor float64 `json:"healthFactor,omitempty"`
	PriceChange  float64 `json:"priceChange,omitempty"`
}

// UserPreferences is the open preference bag attached to a user.
type UserPreferences struct {
	RiskProfile          RiskProfile           `json:"riskProfile,omitempty"`
	AlertThresholds      *AlertThresholds      `json:"alertThresholds,omitempty"`
	ActiveSignals        []string              `json:"activeSignals,omitempty"`
	NotificationChannels []NotificationChannel `json:"notificationChannels,omitempty"`
}

// User owns wallets being monitored and receives alerts about them.
type User struct {
	ID             string
	WalletAddress  string
	Email          string
	TelegramChatID string
	Preferences    *UserPreferences
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HealthFactorThreshold resolves the effective critical threshold for this
// user, falling back to the process-wide default.
func (u *User) HealthFactorThreshold() float64 {
	if u != nil && u.Preferences != nil && u.Preferences.AlertThresholds != nil && u.Preferences.AlertThresholds.HealthFactor > 0 {
		return u.Preferences.AlertThresholds.HealthFactor
	}
	return DefaultRiskThreshold
}

// Channels resolves the delivery channels for this user; in-app is the floor
// so every alert leaves at least a persisted trace.
func (u *User) Channels() []NotificationChannel {
	if u != nil && u.Preferences != nil && len(u.Preferences.NotificationChannels) > 0 {
		return u.Preferences.NotificationChannels
	}
	return []NotificationChannel{ChannelInApp}
}
