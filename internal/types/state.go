package types

// Step identifies a phase of the scrape workflow. Steps only advance forward.
type Step string

const (
	StepCollectPrimary   Step = "COLLECT_PRIMARY"
	StepCollectSecondary Step = "COLLECT_SECONDARY"
	StepCompleted        Step = "COMPLETED"
)

// Valid reports whether s names a known workflow step.
func (s Step) Valid() bool {
	switch s {
	case StepCollectPrimary, StepCollectSecondary, StepCompleted:
		return true
	}
	return false
}

// Collected accumulates partial results across workflow steps.
// PrimaryCurrent/PrimaryPrevious are immutable once the step has left
// COLLECT_PRIMARY.
type Collected struct {
	PrimaryCurrent  []Record    `json:"primary_current"  bson:"primary_current"`
	PrimaryPrevious []Record    `json:"primary_previous" bson:"primary_previous"`
	SecondaryCount  int         `json:"secondary_count"  bson:"secondary_count"`
	Profile         ProfileMeta `json:"profile"          bson:"profile"`
}

// ScrapeState is the single persisted workflow record for a run. It is the
// only thing that survives a full page navigation: on every reinitialization
// the runner reads it back and dispatches on Step.
type ScrapeState struct {
	Active         bool      `json:"active"          bson:"active"`
	Step           Step      `json:"step"            bson:"step"`
	TargetIdentity string    `json:"target_identity" bson:"target_identity"`
	YearWindow     []int     `json:"year_window"     bson:"year_window"`
	Collected      Collected `json:"collected"       bson:"collected"`
}

// NewScrapeState returns a fresh state for a run against handle. Starting a
// run always produces this reset state; stale data is never merged.
func NewScrapeState(handle string, years []int) *ScrapeState {
	return &ScrapeState{
		Active:         true,
		Step:           StepCollectPrimary,
		TargetIdentity: handle,
		YearWindow:     append([]int(nil), years...),
	}
}
