// Package report exports duplicate warnings and their decisions as XLSX
// workbooks.
package report

import (
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// Sheet names.
const (
	WarningsSheet = "Warnings"
	MatchesSheet  = "Matches"
)

var warningHeader = []string{
	"Warning ID", "Created At", "Severity", "Action", "Triggered By",
	"Candidate Name", "Candidate Email", "Candidate Phone", "Candidate Company",
	"Match Count", "Decision", "Decided At", "Reason",
}

var matchHeader = []string{
	"Warning ID", "Record ID", "Source", "Match Type", "Confidence", "Severity",
	"Name", "Email", "Phone", "Company", "Owner", "Last Contact",
}

// Build lays out one row per warning on the Warnings sheet and one row per
// match on the Matches sheet. Undecided warnings leave the decision columns
// blank.
func Build(warnings []duplicate.Warning) (*xlsx.File, error) {
	f := xlsx.NewFile()

	ws, err := f.AddSheet(WarningsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add warnings sheet")
	}
	ms, err := f.AddSheet(MatchesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add matches sheet")
	}

	addStrings(ws.AddRow(), warningHeader)
	addStrings(ms.AddRow(), matchHeader)

	for _, w := range warnings {
		row := ws.AddRow()
		addStrings(row, []string{
			w.ID,
			stamp(&w.CreatedAt),
			string(w.Severity),
			string(w.Action),
			w.TriggeredByUserID,
			w.CandidateSnapshot.Name,
			w.CandidateSnapshot.Email,
			w.CandidateSnapshot.Phone,
			w.CandidateSnapshot.Company,
		})
		row.AddCell().SetInt(len(w.Matches))
		var decision string
		if w.DecisionMade {
			decision = string(w.UserDecision)
		}
		addStrings(row, []string{decision, stamp(w.DecisionAt), w.ProceedReason})

		for _, m := range w.Matches {
			rec := m.ExistingRecord
			mrow := ms.AddRow()
			addStrings(mrow, []string{w.ID, rec.ID, string(rec.SourceType), string(m.MatchType)})
			mrow.AddCell().SetFloat(m.Confidence)
			addStrings(mrow, []string{
				string(m.Severity),
				rec.Name,
				rec.Email,
				rec.Phone,
				rec.Company,
				owner(rec),
				stamp(rec.LastContactDate),
			})
		}
	}
	return f, nil
}

// WriteWarnings writes the workbook for warnings to w.
func WriteWarnings(w io.Writer, warnings []duplicate.Warning) error {
	f, err := Build(warnings)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write workbook")
}

// SaveWarnings writes the workbook for warnings to path.
func SaveWarnings(path string, warnings []duplicate.Warning) error {
	f, err := Build(warnings)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "report: open file")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("report: sheet %q not found", name)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addStrings(row *xlsx.Row, vals []string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func owner(rec duplicate.ExistingRecordRef) string {
	if name := strings.TrimSpace(rec.OwnerName); name != "" {
		return name
	}
	return rec.OwnerID
}
