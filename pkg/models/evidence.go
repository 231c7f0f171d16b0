package models

// Segment is one time slice of the submitted video. Segments are uniquely
// keyed by Index so that out-of-order processing aggregates deterministically.
type Segment struct {
	Index    int `json:"index"`
	StartSec int `json:"start_sec"`
	EndSec   int `json:"end_sec"`
}

// SegmentAnalysis is the multimodal analysis output for one segment.
type SegmentAnalysis struct {
	Index      int      `json:"index"`
	Transcript string   `json:"transcript,omitempty"`
	Claims     []string `json:"claims,omitempty"`
}

// Claim is one factual claim extracted from the video, keyed stably by ID
// (derived from segment index and position, not from processing order).
type Claim struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Segment int    `json:"segment"`
}

// EvidenceQuery asks a search provider for material relevant to one claim.
type EvidenceQuery struct {
	Claim   string `json:"claim"`
	Context string `json:"context,omitempty"`
}

// EvidenceSource is one retrieved piece of supporting or refuting material.
type EvidenceSource struct {
	Reference string  `json:"reference"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// EvidenceResult is the ordered evidence returned for one query.
type EvidenceResult struct {
	Sources []EvidenceSource `json:"sources"`
}

// VerifyRequest asks an inference provider for a verdict on one claim given
// the evidence gathered for it.
type VerifyRequest struct {
	Claim    Claim            `json:"claim"`
	Evidence []EvidenceSource `json:"evidence,omitempty"`
}
