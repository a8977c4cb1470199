package main

import (
	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// scanOutput is the --json form of scan.
type scanOutput struct {
	Metadata    snapshot.Metadata `json:"metadata"`
	Findings    []finding.Finding `json:"findings"`
	Diagnostics int               `json:"diagnostics"`
	Diff        *diff.Summary     `json:"diff,omitempty"`
}

// reportOutput is the --json form of report.
type reportOutput struct {
	Metadata    snapshot.Metadata `json:"metadata"`
	Findings    []finding.Finding `json:"findings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

func summarize(d *diff.Diff) *diff.Summary {
	if d == nil {
		return nil
	}
	s := d.Summary()
	return &s
}
