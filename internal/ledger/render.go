// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/bartekus/commitver/internal/projection"
)

// RenderMarkdown renders the ledger of one repository as a markdown report.
// A positive limit keeps only the newest limit commits.
func RenderMarkdown(repo string, entries []Entry, limit int) string {
	type row struct {
		file string
		rec  CommitRecord
	}
	var rows []row
	summarized := 0
	for _, e := range entries {
		if e.History.Summarized {
			summarized++
		}
		for _, c := range e.History.Commits {
			rows = append(rows, row{file: e.Filename, rec: c})
		}
	}
	total := len(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	var b strings.Builder
	b.WriteString(projection.RenderHeader(1, "Ledger: "+repo))

	if len(entries) == 0 {
		b.WriteString("No ledger files.\n")
		return b.String()
	}

	latest := entries[len(entries)-1]
	current := "n/a"
	if cp, ok := latest.History.Checkpoint(); ok {
		current = fmt.Sprintf("%s at `%s`", cp.Version, shortSHA(cp.SHA))
	}
	b.WriteString(projection.RenderList([]string{
		"Branch: " + latest.History.Branch,
		"Current version: " + current,
		fmt.Sprintf("Files: %d (%d summarized)", len(entries), summarized),
		fmt.Sprintf("Commits: %d", total),
	}))
	b.WriteString("\n")

	if limit > 0 && total > limit {
		b.WriteString(projection.RenderHeader(2, fmt.Sprintf("Latest %d commits", limit)))
	} else {
		b.WriteString(projection.RenderHeader(2, "Commits"))
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			r.rec.Version.String(),
			shortSHA(r.rec.SHA),
			string(r.rec.Tier),
			r.rec.DecidedBy,
			r.rec.AuthoredDate.UTC().Format(time.RFC3339),
			subject(r.rec.Message),
			r.file,
		})
	}
	b.WriteString(projection.RenderTable(
		[]string{"Version", "SHA", "Tier", "Decided by", "Authored", "Subject", "File"},
		table,
	))
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func subject(msg string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	const maxSubject = 72
	if len(line) > maxSubject {
		return line[:maxSubject-3] + "..."
	}
	return line
}
