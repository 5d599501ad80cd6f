// Package export renders a finished session as a report: plain text, JSON,
// YAML or Parquet rows (one row per edition).
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ReportConfig records how the report was produced
type ReportConfig struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Timestamp   string  `json:"timestamp" yaml:"timestamp"`
}

type ReportEdition struct {
	ID           string `json:"id" yaml:"id"`
	Position     int    `json:"position" yaml:"position"`
	Filename     string `json:"filename" yaml:"filename"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// Report is the exported result of one analysis
type Report struct {
	Config      ReportConfig          `json:"config" yaml:"config"`
	SessionID   string                `json:"session_id" yaml:"session_id"`
	Status      models.AnalysisStatus `json:"status" yaml:"status"`
	Error       string                `json:"error,omitempty" yaml:"error,omitempty"`
	Original    string                `json:"original" yaml:"original"`
	Description string                `json:"description" yaml:"description"`
	Editions    []ReportEdition       `json:"editions" yaml:"editions"`
}

// NewReport builds a report from a session snapshot. Editions without a
// result are left out.
func NewReport(snap models.SessionSnapshot, cfg ReportConfig) Report {
	if cfg.Timestamp == "" {
		cfg.Timestamp = time.Now().Format(time.RFC3339)
	}

	report := Report{
		Config:      cfg,
		SessionID:   snap.ID,
		Status:      snap.Status,
		Error:       snap.Error,
		Description: snap.OriginalDescription,
		Editions:    make([]ReportEdition, 0, len(snap.Results)),
	}
	if snap.Original != nil {
		report.Original = snap.Original.Filename
	}
	for _, r := range snap.Results {
		report.Editions = append(report.Editions, ReportEdition{
			ID:           r.EditionID,
			Position:     r.Position,
			Filename:     r.Filename,
			Instructions: r.Instructions,
		})
	}
	return report
}

// Write renders report to w in the given format
func Write(w io.Writer, report Report, format string) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, report.Text())
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case FormatYAML:
		data, err := yaml.Marshal(&report)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// Text is the human readable form of the report
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original: %s\n", r.Original)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", r.Description)
	}
	for _, ed := range r.Editions {
		fmt.Fprintf(&b, "\nEdition %d (%s, %s):\n%s\n", ed.Position, ed.ID, ed.Filename, ed.Instructions)
	}
	return b.String()
}
