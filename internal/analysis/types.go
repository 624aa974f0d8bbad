package analysis

import (
	"encoding/json"
	"strings"
)

// Correction is a factual error in a note and what the source says instead.
type Correction struct {
	Issue      string `json:"issue"`
	Correction string `json:"correction"`
}

// Review is the structured feedback on one note.
type Review struct {
	NoteID              string       `json:"note_id"`
	DocumentID          string       `json:"document_id"`
	OverallFeedback     string       `json:"overall_feedback"`
	Strengths           stringList   `json:"strengths"`
	AreasForImprovement stringList   `json:"areas_for_improvement"`
	MissingConcepts     stringList   `json:"missing_concepts"`
	Corrections         []Correction `json:"corrections"`
	SuggestionsToAdd    stringList   `json:"suggestions_to_add"`
	AdditionalResources stringList   `json:"additional_resources"`
	Language            string       `json:"language"`
}

// Recommendation is the study advice for one document.
type Recommendation struct {
	DocumentID         string     `json:"document_id"`
	CoveragePercentage float64    `json:"coverage_percentage"`
	Language           string     `json:"language"`
	MissingSections    stringList `json:"missing_sections"`
	SuggestedTopics    stringList `json:"suggested_topics"`
	StudyPath          stringList `json:"study_path"`
	Recommendations    flatText   `json:"recommendations"`
}

// stringList accepts a JSON list of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			*l = stringList{s}
		} else {
			*l = stringList{}
		}
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(stringList, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	*l = out
	return nil
}

// flatText accepts a JSON string or a list of strings joined by newlines.
type flatText string

func (t *flatText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = flatText(strings.TrimSpace(s))
		return nil
	}
	var items stringList
	if err := items.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = flatText(strings.Join(items, "\n"))
	return nil
}
