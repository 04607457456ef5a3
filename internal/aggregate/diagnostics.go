package aggregate

import "time"

// Diagnostics records how a run arrived at its row set.
type Diagnostics struct {
	RunID             string `json:"run_id"`
	RequestedMode     Mode   `json:"requested_mode"`
	UsedMode          Mode   `json:"used_mode"`
	FallbackTriggered bool   `json:"fallback_triggered"`
	FallbackReason    string `json:"fallback_reason,omitempty"`
	Timezone          string `json:"timezone"`
	WindowStart       string `json:"window_start"`
	WindowEnd         string `json:"window_end"`

	PassCounts
	// PerDayPass holds the abandoned per-day counts when auto mode fell
	// back to range.
	PerDayPass *PassCounts `json:"per_day_pass,omitempty"`

	DaysQueried      int `json:"days_queried"`
	RealRows         int `json:"real_rows"`
	SyntheticRows    int `json:"synthetic_rows"`
	DraftRows        int `json:"draft_rows"`
	EnrichedMessages int `json:"enriched_messages"`

	Warnings  []string      `json:"warnings,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// PassCounts are the counters of a single collection pass over upstream.
type PassCounts struct {
	ReportCalls           int `json:"report_calls"`
	UpstreamRows          int `json:"upstream_rows"`
	SynthesizedIdentities int `json:"synthesized_identities"`
	DroppedNonEmail       int `json:"dropped_non_email"`
	DroppedUnidentifiable int `json:"dropped_unidentifiable"`
	DroppedUnknownFlow    int `json:"dropped_unknown_flow"`
	MergedDuplicates      int `json:"merged_duplicates"`
}

// restartPass parks the current counters in PerDayPass and zeroes them.
func (d *Diagnostics) restartPass() {
	prev := d.PassCounts
	d.PerDayPass = &prev
	d.PassCounts = PassCounts{}
}

func (d *Diagnostics) warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}
