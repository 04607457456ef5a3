// Package scorer computes per-step flow health scores, action
// recommendations and the add-step advice.
package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Bin awards Points when a value passes Threshold. Strict selects < or >
// over <= or >=, depending on the bin family.
type Bin struct {
	Threshold float64 `yaml:"threshold"`
	Points    float64 `yaml:"points"`
	Strict    bool    `yaml:"strict"`
}

// Profile holds every tunable of the scoring engine and the add-step advisor.
// Rates and shares are fractions (0.003 == 0.30%).
type Profile struct {
	// Money pillar.
	RevenueIndexPoints float64 `yaml:"revenue_index_points"`
	RevenueIndexCap    float64 `yaml:"revenue_index_cap"`
	RevenueShareBins   []Bin   `yaml:"revenue_share_bins"`
	RevenueShareFloor  float64 `yaml:"revenue_share_floor"`

	// Deliverability pillar. Spam, bounce and unsub bins award points below
	// the threshold; open and click bins at or above it.
	SpamBins          []Bin   `yaml:"spam_bins"`
	BounceBins        []Bin   `yaml:"bounce_bins"`
	UnsubBins         []Bin   `yaml:"unsub_bins"`
	OpenBins          []Bin   `yaml:"open_bins"`
	ClickBins         []Bin   `yaml:"click_bins"`
	DeliverabilityMax float64 `yaml:"deliverability_max"`
	LowVolumeShare    float64 `yaml:"low_volume_share"`
	LowVolumeBelow    float64 `yaml:"low_volume_below"`

	// Confidence pillar.
	ConfidencePerPoint float64 `yaml:"confidence_per_point"`
	ConfidenceMax      float64 `yaml:"confidence_max"`

	// Risk thresholds.
	RiskSpam   float64 `yaml:"risk_spam"`
	RiskUnsub  float64 `yaml:"risk_unsub"`
	RiskBounce float64 `yaml:"risk_bounce"`
	RiskOpen   float64 `yaml:"risk_open"`
	RiskClick  float64 `yaml:"risk_click"`

	// Action classification.
	PauseMoneyMax      float64 `yaml:"pause_money_max"`
	RiskKeepMoneyMin   float64 `yaml:"risk_keep_money_min"`
	RiskKeepRevenueIdx float64 `yaml:"risk_keep_revenue_index"`
	ScaleMin           float64 `yaml:"scale_min"`
	KeepMin            float64 `yaml:"keep_min"`
	ImproveMin         float64 `yaml:"improve_min"`
	GuardrailRevenue   float64 `yaml:"guardrail_revenue"`
	GuardrailFlowShare float64 `yaml:"guardrail_flow_share"`

	// Add-step advisor.
	AddStepMinScore        float64 `yaml:"add_step_min_score"`
	AddStepMinSends        int64   `yaml:"add_step_min_sends"`
	AddStepMinSendsShare   float64 `yaml:"add_step_min_sends_share"`
	AddStepMinRevenue      float64 `yaml:"add_step_min_revenue"`
	AddStepMinRevenueShare float64 `yaml:"add_step_min_revenue_share"`
	AddStepReachFactor     float64 `yaml:"add_step_reach_factor"`
	AddStepRPEPercentile   float64 `yaml:"add_step_rpe_percentile"`
}

// DefaultProfile returns the standard thresholds.
func DefaultProfile() Profile {
	return Profile{
		RevenueIndexPoints: 35,
		RevenueIndexCap:    2,
		RevenueShareBins: []Bin{
			{Threshold: 0.05, Points: 35},
			{Threshold: 0.03, Points: 30},
			{Threshold: 0.02, Points: 25},
			{Threshold: 0.01, Points: 20},
			{Threshold: 0.005, Points: 15},
			{Threshold: 0.0025, Points: 10},
		},
		RevenueShareFloor: 5,

		SpamBins: []Bin{
			{Threshold: 0.0005, Points: 7, Strict: true},
			{Threshold: 0.0010, Points: 6, Strict: true},
			{Threshold: 0.0020, Points: 3, Strict: true},
			{Threshold: 0.0030, Points: 1, Strict: true},
		},
		BounceBins: []Bin{
			{Threshold: 0.01, Points: 7, Strict: true},
			{Threshold: 0.02, Points: 6, Strict: true},
			{Threshold: 0.03, Points: 3, Strict: true},
			{Threshold: 0.05, Points: 1, Strict: true},
		},
		UnsubBins: []Bin{
			{Threshold: 0.002, Points: 3, Strict: true},
			{Threshold: 0.005, Points: 2, Strict: true},
			{Threshold: 0.010, Points: 1},
		},
		OpenBins: []Bin{
			{Threshold: 0.30, Points: 2},
			{Threshold: 0.20, Points: 1},
		},
		ClickBins: []Bin{
			{Threshold: 0.03, Points: 1, Strict: true},
			{Threshold: 0.01, Points: 0.5},
		},
		DeliverabilityMax: 20,
		LowVolumeShare:    0.005,
		LowVolumeBelow:    15,

		ConfidencePerPoint: 100,
		ConfidenceMax:      10,

		RiskSpam:   0.003,
		RiskUnsub:  0.01,
		RiskBounce: 0.05,
		RiskOpen:   0.20,
		RiskClick:  0.01,

		PauseMoneyMax:      35,
		RiskKeepMoneyMin:   55,
		RiskKeepRevenueIdx: 1.4,
		ScaleMin:           75,
		KeepMin:            60,
		ImproveMin:         40,
		GuardrailRevenue:   5000,
		GuardrailFlowShare: 0.10,

		AddStepMinScore:        75,
		AddStepMinSends:        500,
		AddStepMinSendsShare:   0.05,
		AddStepMinRevenue:      500,
		AddStepMinRevenueShare: 0.05,
		AddStepReachFactor:     0.5,
		AddStepRPEPercentile:   0.25,
	}
}

// LoadProfile reads a YAML profile from path and overlays it on
// DefaultProfile. The document has a top-level "scoring" key.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "scorer: read profile %s", path)
	}

	wrapper := struct {
		Scoring *Profile `yaml:"scoring"`
	}{Scoring: &p}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return DefaultProfile(), eris.Wrap(err, "scorer: parse profile")
	}
	if err := p.Validate(); err != nil {
		return DefaultProfile(), err
	}
	return p, nil
}

// Validate checks that a Profile is internally consistent.
func (p Profile) Validate() error {
	var errs []string

	if p.RevenueIndexPoints < 0 || p.RevenueIndexCap <= 0 {
		errs = append(errs, "revenue_index_points must be >= 0 and revenue_index_cap > 0")
	}
	if sum := p.RevenueIndexPoints + maxPoints(p.RevenueShareBins, p.RevenueShareFloor); sum > 70 {
		errs = append(errs, fmt.Sprintf("money pillar can exceed 70 (got %.1f)", sum))
	}
	if p.RevenueShareFloor < 0 {
		errs = append(errs, "revenue_share_floor must be >= 0")
	}

	for name, bins := range map[string][]Bin{
		"revenue_share_bins": p.RevenueShareBins,
		"open_bins":          p.OpenBins,
		"click_bins":         p.ClickBins,
	} {
		if !descending(bins) {
			errs = append(errs, name+" thresholds must be in descending order")
		}
	}
	for name, bins := range map[string][]Bin{
		"spam_bins":   p.SpamBins,
		"bounce_bins": p.BounceBins,
		"unsub_bins":  p.UnsubBins,
	} {
		if !ascending(bins) {
			errs = append(errs, name+" thresholds must be in ascending order")
		}
	}

	if p.DeliverabilityMax <= 0 || p.DeliverabilityMax > 20 {
		errs = append(errs, "deliverability_max must be in (0, 20]")
	}
	if p.LowVolumeShare < 0 || p.LowVolumeShare >= 1 {
		errs = append(errs, "low_volume_share must be in [0, 1)")
	}
	if p.ConfidencePerPoint <= 0 {
		errs = append(errs, "confidence_per_point must be > 0")
	}
	if p.ConfidenceMax < 0 || p.ConfidenceMax > 10 {
		errs = append(errs, "confidence_max must be in [0, 10]")
	}
	if !(p.ImproveMin <= p.KeepMin && p.KeepMin <= p.ScaleMin && p.ScaleMin <= 100) {
		errs = append(errs, "action thresholds must satisfy improve_min <= keep_min <= scale_min <= 100")
	}
	if p.AddStepRPEPercentile < 0 || p.AddStepRPEPercentile > 1 {
		errs = append(errs, "add_step_rpe_percentile must be in [0, 1]")
	}
	if p.AddStepReachFactor <= 0 || p.AddStepReachFactor > 1 {
		errs = append(errs, "add_step_reach_factor must be in (0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: profile validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func maxPoints(bins []Bin, floor float64) float64 {
	m := floor
	for _, b := range bins {
		m = max(m, b.Points)
	}
	return m
}

func descending(bins []Bin) bool {
	for i := 1; i < len(bins); i++ {
		if bins[i].Threshold > bins[i-1].Threshold {
			return false
		}
	}
	return true
}

func ascending(bins []Bin) bool {
	for i := 1; i < len(bins); i++ {
		if bins[i].Threshold < bins[i-1].Threshold {
			return false
		}
	}
	return true
}
