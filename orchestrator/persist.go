package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neurocorpus/embx-pipeline/tokens"
)

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: ensure %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("persist: encode %s: %w", path, err)
	}
	return nil
}

// WriteRecords serializes the per-token output table, one record per token.
func WriteRecords(path string, rows []tokens.Row) error {
	return writeJSON(path, rows)
}

// ReadRecords loads a record file back; used by downstream analysis and the
// round-trip tests.
func ReadRecords(path string) ([]tokens.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer f.Close()
	var rows []tokens.Row
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, fmt.Errorf("persist: decode %s: %w", path, err)
	}
	return rows, nil
}

// WriteMatrix serializes raw per-token rows (logits or hidden states) for the
// save-predictions / save-hidden-states flags.
func WriteMatrix(path string, rows [][]float64) error {
	return writeJSON(path, rows)
}

// WriteManifest records run metadata next to the conversation outputs.
func WriteManifest(path string, summary RunSummary) error {
	return writeJSON(path, summary)
}
