package export

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Row is one edition of a report, flattened for Parquet
type Row struct {
	SessionID    string  `parquet:"session_id"`
	Provider     string  `parquet:"provider"`
	Model        string  `parquet:"model"`
	Temperature  float64 `parquet:"temperature"`
	Timestamp    string  `parquet:"timestamp"`
	Original     string  `parquet:"original"`
	Description  string  `parquet:"description"`
	EditionID    string  `parquet:"edition_id"`
	Position     int32   `parquet:"position"`
	Filename     string  `parquet:"filename"`
	Instructions string  `parquet:"instructions"`
}

// Rows flattens report into one row per edition
func Rows(report Report) []Row {
	rows := make([]Row, 0, len(report.Editions))
	for _, ed := range report.Editions {
		rows = append(rows, Row{
			SessionID:    report.SessionID,
			Provider:     report.Config.Provider,
			Model:        report.Config.Model,
			Temperature:  report.Config.Temperature,
			Timestamp:    report.Config.Timestamp,
			Original:     report.Original,
			Description:  report.Description,
			EditionID:    ed.ID,
			Position:     int32(ed.Position),
			Filename:     ed.Filename,
			Instructions: ed.Instructions,
		})
	}
	return rows
}

// WriteParquet writes the report rows to path
func WriteParquet(path string, report Report) error {
	rows := Rows(report)
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	slog.Debug("Parquet file written", "path", path, "rows", len(rows))
	return nil
}

// AppendParquet adds the report rows after any rows already in path,
// creating the file if it does not exist.
func AppendParquet(path string, report Report) error {
	var rows []Row
	if _, err := os.Stat(path); err == nil {
		rows, err = ReadParquet(path)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat parquet file: %w", err)
	}
	rows = append(rows, Rows(report)...)
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	slog.Debug("Parquet file appended", "path", path, "rows", len(rows))
	return nil
}

// ReadParquet loads rows previously written by WriteParquet
func ReadParquet(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}
	return rows, nil
}
