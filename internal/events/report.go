package events

// TelemetryReport aggregates estimation telemetry for offline review.
// Produced by the storage layer for the `autopack telemetry` command.
type TelemetryReport struct {
	RunID            string  `json:"run_id,omitempty"` // empty = all runs
	Calls            int64   `json:"calls"`
	MeanWasteRatio   float64 `json:"mean_waste_ratio"`
	MeanSMAPEPercent float64 `json:"mean_smape_percent"`
	TruncationRate   float64 `json:"truncation_rate"` // fraction of calls truncated
	Escalations      int64   `json:"escalations"`
	DoctorSessions   int64   `json:"doctor_sessions"`
}
