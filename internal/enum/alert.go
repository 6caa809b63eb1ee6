package enum

type AlertType string

const (
	AlertPassRateDrop AlertType = "pass_rate_drop"
	AlertNewSources   AlertType = "new_sources"
)

func (t AlertType) String() string {
	return string(t)
}

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

func (t AlertSeverity) String() string {
	return string(t)
}
