package duplicate

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// validateCheck rejects input the caller must fix before a check can run.
func validateCheck(c CandidateInput, userID string, action Action) error {
	if strings.TrimSpace(userID) == "" {
		return invalid("userId", "is required")
	}
	if !action.Valid() {
		return invalid("action", "unknown action "+string(action))
	}
	if blank(c.Name) && blank(c.Email) && blank(c.Phone) && blank(c.Company) {
		return invalid("candidate", "at least one of name, email, phone, or company is required")
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		if err := validate.Var(email, "email"); err != nil {
			return invalid("email", "is not a valid email address")
		}
	}
	return nil
}

// sufficient reports whether at least two identifying signals are present.
// A name counts only with two or more characters. Email, phone, and company
// count by their normalized values, so a phone of "n/a" is no signal.
func sufficient(name string, nc normalized) bool {
	n := 0
	if utf8.RuneCountInString(strings.TrimSpace(name)) >= 2 {
		n++
	}
	for _, f := range []string{nc.email, nc.phone, nc.company} {
		if f != "" {
			n++
		}
	}
	return n >= 2
}

// ValidateWarningID rejects identifiers that cannot name a warning.
func ValidateWarningID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return invalid("warningId", "must be a UUID")
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
