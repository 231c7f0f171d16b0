package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahulnair/veriscope/pkg/models"
)

// Prompt builders and response parsers shared by the inference-backed
// providers. Every structured operation asks the model for a single JSON
// object and parses it leniently: content wrapped in code fences or prose
// still parses as long as one object is present.

const analyzeSystem = `You are a fact-check assistant. You analyze one segment of a video
and extract the factual claims made in it. Respond with a single JSON object:
{"transcript": "...", "claims": ["claim 1", "claim 2"]}
Only include checkable factual claims, not opinions.`

func AnalyzePrompt(videoRef string, seg models.Segment) string {
	return fmt.Sprintf("Video: %s\nSegment %d, from %ds to %ds.\nExtract the factual claims made in this segment.",
		videoRef, seg.Index, seg.StartSec, seg.EndSec)
}

const verifySystem = `You are a fact-check assistant. Given one claim and the evidence
gathered for it, decide a verdict. Respond with a single JSON object:
{"verdict": "supported"|"refuted"|"unverifiable", "confidence": 0.0-1.0, "rationale": "..."}`

func VerifyPrompt(req models.VerifyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\nEvidence:\n", req.Claim.Text)
	if len(req.Evidence) == 0 {
		b.WriteString("(none found)\n")
	}
	for i, src := range req.Evidence {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, src.Reference, src.Content)
	}
	b.WriteString("\nDecide the verdict for this claim.")
	return b.String()
}

const summarizeSystem = `You are a fact-check assistant. Summarize the verified claims of a
video into a short plain-language report summary. Respond with plain text only.`

func SummarizePrompt(verdicts []models.ClaimVerdict) string {
	var b strings.Builder
	b.WriteString("Verified claims:\n")
	for _, v := range verdicts {
		fmt.Fprintf(&b, "- %q: %s (confidence %.2f)\n", v.Claim, v.Verdict, v.Confidence)
	}
	b.WriteString("\nWrite a summary of the video's overall factual accuracy.")
	return b.String()
}

func SystemPrompt(op string) string {
	switch op {
	case "analyze":
		return analyzeSystem
	case "verify":
		return verifySystem
	case "summarize":
		return summarizeSystem
	}
	return ""
}

// ParseAnalysis extracts a SegmentAnalysis from model output.
func ParseAnalysis(content string, segIndex int) (*models.SegmentAnalysis, error) {
	var out struct {
		Transcript string   `json:"transcript"`
		Claims     []string `json:"claims"`
	}
	if err := unmarshalObject(content, &out); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", ErrInvalidResponse)
	}
	return &models.SegmentAnalysis{Index: segIndex, Transcript: out.Transcript, Claims: out.Claims}, nil
}

// ParseVerdict extracts a ClaimVerdict from model output. The claim identity
// comes from the request, never from the model.
func ParseVerdict(content string, claim models.Claim) (*models.ClaimVerdict, error) {
	var out struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := unmarshalObject(content, &out); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", ErrInvalidResponse)
	}
	switch out.Verdict {
	case models.VerdictSupported, models.VerdictRefuted, models.VerdictUnverifiable:
	default:
		out.Verdict = models.VerdictUnverifiable
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return &models.ClaimVerdict{
		ClaimID:    claim.ID,
		Claim:      claim.Text,
		Verdict:    out.Verdict,
		Confidence: out.Confidence,
		Rationale:  out.Rationale,
	}, nil
}

// unmarshalObject unmarshals the first JSON object found in content.
func unmarshalObject(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), v)
}
