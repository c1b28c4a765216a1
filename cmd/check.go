package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

type checker interface {
	CheckForDuplicates(ctx context.Context, candidate duplicate.CandidateInput, userID string, action duplicate.Action) (*duplicate.CheckResult, error)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a candidate record for duplicates",
	Long:  "Runs one duplicate check as the given user and prints the result. A warning is stored when matches are found.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "check")
		if err != nil {
			return err
		}
		defer env.Close()

		f := cmd.Flags()
		name, _ := f.GetString("name")
		email, _ := f.GetString("email")
		phone, _ := f.GetString("phone")
		company, _ := f.GetString("company")
		title, _ := f.GetString("title")
		action, _ := f.GetString("action")
		user, _ := f.GetString("user")
		asJSON, _ := f.GetBool("json")

		candidate := duplicate.CandidateInput{Name: name, Email: email, Phone: phone, Company: company, Title: title}
		return runCheck(ctx, env.Engine, os.Stdout, candidate, user, duplicate.Action(strings.ToUpper(action)), asJSON)
	},
}

func runCheck(ctx context.Context, c checker, w io.Writer, candidate duplicate.CandidateInput, user string, action duplicate.Action, asJSON bool) error {
	res, err := c.CheckForDuplicates(ctx, candidate, user, action)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, res)
	}
	formatCheckResult(w, res)
	return nil
}

func formatCheckResult(w io.Writer, res *duplicate.CheckResult) {
	if !res.HasWarning {
		fmt.Fprintln(w, "No duplicates found.")
		return
	}

	fmt.Fprintf(w, "%s: %s\n", res.Severity, res.Message)
	fmt.Fprintf(w, "Warning ID: %s\n\n", res.WarningID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSOURCE\tMATCH\tCONFIDENCE\tSEVERITY\tOWNER\tLAST CONTACT")
	for _, m := range res.Matches {
		rec := m.ExistingRecord
		owner := rec.OwnerName
		if owner == "" {
			owner = "-"
		}
		last := "-"
		if rec.LastContactDate != nil {
			last = rec.LastContactDate.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			rec.ID, rec.SourceType, m.MatchType, m.Confidence, m.Severity, owner, last)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := checkCmd.Flags()
	f.String("name", "", "candidate person name")
	f.String("email", "", "candidate email address")
	f.String("phone", "", "candidate phone number")
	f.String("company", "", "candidate company name")
	f.String("title", "", "candidate job title")
	f.String("action", string(duplicate.ActionLeadCreate), "triggering action (LEAD_CREATE, LEAD_UPDATE, PIPELINE_CREATE, PIPELINE_UPDATE, CONTACT_CREATE, CONTACT_UPDATE)")
	f.String("user", "", "ID of the user performing the action")
	f.Bool("json", false, "print the result as JSON")
	_ = checkCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(checkCmd)
}
