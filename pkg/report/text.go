package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
)

const (
	sideRight     = "RIGHT"
	sideLeft      = "LEFT"
	sideBilateral = "BILATERAL"
)

// LateralityPhrase pools the sides reported for one finding across images.
// NONE and unknown values are ignored.
func LateralityPhrase(sides []string) string {
	var right, left bool
	for _, side := range sides {
		switch strings.ToUpper(side) {
		case sideRight:
			right = true
		case sideLeft:
			left = true
		case sideBilateral:
			right, left = true, true
		}
	}
	switch {
	case right && left:
		return "bilateral"
	case right:
		return "right"
	case left:
		return "left"
	}
	return ""
}

func sidesFor(laterality map[string]map[string]string, label string) []string {
	var sides []string
	for _, byLabel := range laterality {
		if side, ok := byLabel[label]; ok {
			sides = append(sides, side)
		}
	}
	return sides
}

// TextReport renders the positive findings of a complete result.
func TextReport(result acquisition.Result) (string, error) {
	if result.Outcome != acquisition.OutcomeComplete {
		return "", fmt.Errorf("no report for accession %s: acquisition %s", result.Accession, result.Outcome)
	}
	findings, err := ExtractFindings(result.Classification)
	if err != nil {
		return "", fmt.Errorf("accession %s: %w", result.Accession, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Accession Number: %s\n\n", result.Accession)

	positive := findings.Positive()
	if len(positive) == 0 {
		b.WriteString("No relevant findings.\n")
		return b.String(), nil
	}

	b.WriteString("Findings:\n")
	for _, f := range positive {
		line := f.DisplayName()
		if phrase := LateralityPhrase(sidesFor(result.Laterality, f.Label)); phrase != "" {
			line += " (" + phrase + ")"
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String(), nil
}

// WriteTextReport writes the report to <dir>/<accession>.txt and returns
// the path.
func WriteTextReport(dir string, result acquisition.Result) (string, error) {
	text, err := TextReport(result)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, result.Accession+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
