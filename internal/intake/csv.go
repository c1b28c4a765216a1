// Package intake reads candidate records in bulk for batch duplicate checks.
package intake

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// Row is one candidate read from a file. Line is 1-based and counts the
// header.
type Row struct {
	Line      int
	Candidate duplicate.CandidateInput
}

// CSVOptions configures the candidate CSV reader.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
}

// headerAliases maps normalized header names to candidate fields.
var headerAliases = map[string]string{
	"name":          "name",
	"full name":     "name",
	"contact name":  "name",
	"email":         "email",
	"email address": "email",
	"phone":         "phone",
	"phone number":  "phone",
	"telephone":     "phone",
	"company":       "company",
	"company name":  "company",
	"organization":  "company",
	"account":       "company",
	"title":         "title",
	"job title":     "title",
}

// columns records which CSV column feeds each candidate field; -1 is absent.
type columns struct {
	name, email, phone, company, title int
}

func mapHeader(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1, -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.Join(strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == ' ' || r == '-' }), " ")
		switch headerAliases[key] {
		case "name":
			c.name = i
		case "email":
			c.email = i
		case "phone":
			c.phone = i
		case "company":
			c.company = i
		case "title":
			c.title = i
		}
	}
	if c.name < 0 && c.email < 0 && c.phone < 0 && c.company < 0 {
		return c, eris.New("csv: header has none of name, email, phone, or company")
	}
	return c, nil
}

func (c columns) candidate(record []string) duplicate.CandidateInput {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	return duplicate.CandidateInput{
		Name:    get(c.name),
		Email:   get(c.email),
		Phone:   get(c.phone),
		Company: get(c.company),
		Title:   get(c.title),
	}
}

// StreamCandidates reads a CSV with a header row and sends one Row per data
// line. Blank lines are skipped. Both channels are closed when processing
// completes.
func StreamCandidates(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.FieldsPerRecord = -1 // allow variable fields

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("csv: empty file")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		cols, err := mapHeader(header)
		if err != nil {
			errCh <- err
			return
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			line, _ := reader.FieldPos(0)

			select {
			case rowCh <- Row{Line: line, Candidate: cols.candidate(record)}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCandidates collects every row of a candidate CSV.
func ReadCandidates(ctx context.Context, r io.Reader, opts CSVOptions) ([]Row, error) {
	rowCh, errCh := StreamCandidates(ctx, r, opts)
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return rows, err
	}
	return rows, nil
}
