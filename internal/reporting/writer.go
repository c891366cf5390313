package reporting

import (
	"fmt"
	"os"
	"path/filepath"
)

// Output file names.
const (
	MarkdownFile = "OUTCOME_REPORT.md"
	CSVFile      = "outcomes_by_type.csv"
)

// WriteFiles renders r into dir and returns the written paths.
func WriteFiles(dir string, r *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{MarkdownFile, RenderMarkdown(r)},
		{CSVFile, RenderCSV(r.ByType)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
