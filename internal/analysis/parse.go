package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// extractJSON pulls the JSON object out of a model reply: code fences and
// surrounding prose are dropped and trailing commas removed.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = rest
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errors.New("no JSON object in response")
	}
	s = s[start : end+1]
	return trailingComma.ReplaceAllString(s, "$1"), nil
}

func parseReview(text string) (*Review, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var r Review
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	r.OverallFeedback = strings.TrimSpace(r.OverallFeedback)
	if r.OverallFeedback == "" {
		return nil, errors.New("review has no overall_feedback")
	}
	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if strings.TrimSpace(c.Issue) != "" || strings.TrimSpace(c.Correction) != "" {
			corrections = append(corrections, c)
		}
	}
	r.Corrections = corrections
	return &r, nil
}

func parseRecommendation(text string) (*Recommendation, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var r Recommendation
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode recommendation: %w", err)
	}
	if r.Recommendations == "" && len(r.MissingSections) == 0 && len(r.SuggestedTopics) == 0 && len(r.StudyPath) == 0 {
		return nil, errors.New("recommendation is empty")
	}
	return &r, nil
}
