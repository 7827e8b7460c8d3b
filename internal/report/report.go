// Package report summarizes a batch screening run for healthcare staff.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/paradetect/paradetect/internal/batch"
)

// Report aggregates the outcome of screening one folder of smear images.
type Report struct {
	Folder      string
	Generated   time.Time
	Total       int
	Parasitized int
	Uninfected  int
	Errors      int
}

// Build counts diagnoses from the batch results.
func Build(folder string, results []batch.Result) *Report {
	r := &Report{
		Folder:    folder,
		Generated: time.Now(),
	}
	for _, res := range results {
		if res.Err != nil {
			r.Errors++
			continue
		}
		r.Total++
		switch res.Label {
		case "Parasitized":
			r.Parasitized++
		case "Uninfected":
			r.Uninfected++
		}
	}
	return r
}

func pct(n, total int) float64 {
	if total == 0 {
		total = 1
	}
	return 100 * float64(n) / float64(total)
}

// Render produces the plain-text report.
func (r *Report) Render() string {
	folder := r.Folder
	if abs, err := filepath.Abs(folder); err == nil {
		folder = abs
	}

	rule := strings.Repeat("=", 60)
	lines := []string{
		rule,
		"ParaDetect - Malaria Screening Report",
		rule,
		fmt.Sprintf("Generated: %s", r.Generated.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Folder: %s", folder),
		"",
		"SUMMARY",
		strings.Repeat("-", 40),
		fmt.Sprintf("Total images analyzed: %d", r.Total),
		fmt.Sprintf("Parasitized (positive): %d (%.1f%%)", r.Parasitized, pct(r.Parasitized, r.Total)),
		fmt.Sprintf("Uninfected (negative):  %d (%.1f%%)", r.Uninfected, pct(r.Uninfected, r.Total)),
		fmt.Sprintf("Errors / unreadable:    %d", r.Errors),
		"",
		"NOTE: This is an automated screening aid. Final diagnosis must be confirmed by a qualified professional.",
		rule,
	}
	return strings.Join(lines, "\n")
}
