package alarms

// Reason explains an evaluation outcome.
type Reason string

const (
	ReasonThresholdBreached   Reason = "threshold_breached"
	ReasonWithinRange         Reason = "within_range"
	ReasonNoThresholds        Reason = "no_thresholds"
	ReasonFieldMissing        Reason = "field_missing"
	ReasonSeverityNormal      Reason = "severity_normal"
	ReasonDoorClosed          Reason = "door_closed"
	ReasonDoorDurationNotMet  Reason = "door_duration_not_met"
	ReasonNoDoorEvent         Reason = "no_door_event"
	ReasonInsufficientHistory Reason = "insufficient_history"
	ReasonPatternDetected     Reason = "pattern_detected"
	ReasonPatternNotDetected  Reason = "pattern_not_detected"
	ReasonNotImplemented      Reason = "not_implemented"
	ReasonEvaluationError     Reason = "evaluation_error"
	ReasonDisabled            Reason = "disabled"
	ReasonCooldownActive      Reason = "cooldown_active"
	ReasonDedupActiveExists   Reason = "dedup_active_exists"
	ReasonConfigError         Reason = "config_error"
	ReasonUnknownTier         Reason = "unknown_tier"
	ReasonPersistFailed       Reason = "persist_failed"
)

// EvidenceOfRecovery reports whether a non-fire with this reason may
// auto-resolve an active event. A reading that does not carry the detection
// field says nothing about the condition.
func (r Reason) EvidenceOfRecovery() bool {
	switch r {
	case ReasonDisabled, ReasonCooldownActive, ReasonDedupActiveExists,
		ReasonEvaluationError, ReasonConfigError, ReasonUnknownTier,
		ReasonSeverityNormal, ReasonPersistFailed, ReasonFieldMissing:
		return false
	default:
		return true
	}
}
