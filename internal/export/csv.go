// Package export renders analysis results for consumption outside the tool.
package export

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/sky-audit/skyaudit/internal/analyzer"
)

const issueSeparator = ";"

var csvHeader = []string{"Handle", "Display Name", "Issues", "Last Post"}

// WriteCSV writes the analysis results as CSV in their given order.
func WriteCSV(writer io.Writer, results []analyzer.AnalysisResult) error {
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(csvHeader); err != nil {
		return err
	}
	for _, result := range results {
		lastPost := ""
		if result.LastActivityAt != nil {
			lastPost = result.LastActivityAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			result.Handle,
			result.DisplayName,
			strings.Join(result.Issues, issueSeparator),
			lastPost,
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
