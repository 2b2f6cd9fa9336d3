package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

// Formats lists the supported output formats.
var Formats = []string{"text", "json", "yaml", "csv"}

type fileOutcome struct {
	File    string           `json:"file" yaml:"file"`
	Outcome pipeline.Outcome `json:"outcome" yaml:"outcome"`
}

// formatResults formats the outcomes in the specified format.
func formatResults(outcomes []pipeline.Outcome, paths []string, format string, precision int) (string, error) {
	if len(outcomes) != len(paths) {
		return "", fmt.Errorf("got %d outcomes for %d files", len(outcomes), len(paths))
	}
	switch format {
	case "json":
		return formatJSON(outcomes, paths)
	case "yaml":
		return pipeline.ToYAML(pairs(outcomes, paths))
	case "csv":
		return pipeline.ToCSV(paths, outcomes)
	case "text", "":
		return formatText(outcomes, paths, precision), nil
	default:
		return "", fmt.Errorf("unsupported format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

func pairs(outcomes []pipeline.Outcome, paths []string) []fileOutcome {
	out := make([]fileOutcome, len(outcomes))
	for i := range outcomes {
		out[i] = fileOutcome{File: paths[i], Outcome: outcomes[i]}
	}
	return out
}

// formatJSON formats results as JSON.
func formatJSON(outcomes []pipeline.Outcome, paths []string) (string, error) {
	doc := struct {
		Receipts []fileOutcome `json:"receipts"`
	}{Receipts: pairs(outcomes, paths)}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// formatText formats results as plain text, one section per file.
func formatText(outcomes []pipeline.Outcome, paths []string, precision int) string {
	var sb strings.Builder
	for i, o := range outcomes {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# %s\n", paths[i])
		sb.WriteString(pipeline.ToPlainText(o, precision))
		sb.WriteString("\n")
	}
	return sb.String()
}
