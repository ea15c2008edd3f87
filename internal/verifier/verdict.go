// Package verifier evaluates agent messages against the task using an
// external judge, degrading safely when the judge is flaky or incoherent.
package verifier

// Verdict outcomes.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Verdict is the structured judgment for one agent message. Immutable once
// produced; always well-formed even when the judge is not.
type Verdict struct {
	Verdict          string   `json:"verdict"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	SuggestedActions []string `json:"suggested_actions"`
	PatchForAgent    string   `json:"patch_for_agent,omitempty"`
}

// normalize applies schema defaults and clamps confidence into [0,1].
// A missing verdict defaults to fail: the conservative reading of an
// answer that did not say "pass".
func (v *Verdict) normalize() {
	if v.Verdict != VerdictPass && v.Verdict != VerdictFail {
		v.Verdict = VerdictFail
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if v.Reason == "" {
		v.Reason = "No reason provided"
	}
	if v.SuggestedActions == nil {
		v.SuggestedActions = []string{}
	}
}

// Failed reports whether the verdict is a fail.
func (v Verdict) Failed() bool {
	return v.Verdict == VerdictFail
}
