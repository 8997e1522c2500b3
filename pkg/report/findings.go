// Package report renders acquired classification results for people: plain
// text reports per accession and a summary workbook across a run.
package report

import (
	"encoding/json"
	"fmt"
)

type Finding struct {
	Label       string  `json:"label"`
	LabelName   string  `json:"labelName"`
	Probability float64 `json:"probability"`
	Threshold   float64 `json:"threshold"`
}

// Positive reports whether the probability clears the finding's threshold.
func (f Finding) Positive() bool {
	return f.Probability > f.Threshold
}

// DisplayName prefers the human readable label.
func (f Finding) DisplayName() string {
	if f.LabelName != "" {
		return f.LabelName
	}
	return f.Label
}

type Group struct {
	Label     string    `json:"label"`
	LabelName string    `json:"labelName"`
	Findings  []Finding `json:"findings"`
}

type Findings struct {
	Relevant   []Group
	Irrelevant []Finding
}

// Positive lists the positive relevant findings in report order.
func (f *Findings) Positive() []Finding {
	var out []Finding
	for _, g := range f.Relevant {
		for _, finding := range g.Findings {
			if finding.Positive() {
				out = append(out, finding)
			}
		}
	}
	return out
}

// Names lists the display names of every relevant finding.
func (f *Findings) Names() []string {
	var out []string
	for _, g := range f.Relevant {
		for _, finding := range g.Findings {
			out = append(out, finding.DisplayName())
		}
	}
	return out
}

type classificationDoc struct {
	Findings struct {
		Vision struct {
			Study struct {
				Classifications struct {
					Relevant   []Group `json:"relevant"`
					Irrelevant []Group `json:"irrelevant"`
				} `json:"classifications"`
			} `json:"study"`
		} `json:"vision"`
	} `json:"findings"`
}

// ExtractFindings reads the study level classifications from a raw
// classification payload.
func ExtractFindings(classification json.RawMessage) (*Findings, error) {
	var doc classificationDoc
	if err := json.Unmarshal(classification, &doc); err != nil {
		return nil, fmt.Errorf("decoding classification: %w", err)
	}
	c := doc.Findings.Vision.Study.Classifications
	out := &Findings{Relevant: c.Relevant}
	for _, g := range c.Irrelevant {
		out.Irrelevant = append(out.Irrelevant, g.Findings...)
	}
	return out, nil
}
