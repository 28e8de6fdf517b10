package domain

import "time"

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a persisted notification produced by the alert dispatcher when a
// position's health factor crosses below the user's threshold. It doubles as
// the "in_app" delivery channel.
type Alert struct {
	ID           string
	UserID       string
	PositionID   string
	Severity     AlertSeverity
	Title        string
	Message      string
	HealthFactor float64
	Threshold    float64
	Channels     []NotificationChannel
	CreatedAt    time.Time
}

// Signal is produced by analytics outside this service; monitoring only cares
// that signals share the event contract and aggregate identity scheme.
type Signal struct {
	ID         string
	Kind       string
	AssetSymbol string
	Strength   float64
	Payload    map[string]any
	CreatedAt  time.Time
}

// Intent is a user-declared rule evaluated elsewhere against position and
// signal state. Carried here only for aggregate typing.
type Intent struct {
	ID        string
	UserID    string
	Rule      string
	Enabled   bool
	CreatedAt time.Time
}
