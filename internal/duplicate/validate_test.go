package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/normalize"
)

func TestSufficient(t *testing.T) {
	tests := []struct {
		name string
		c    CandidateInput
		want bool
	}{
		{"email and phone", CandidateInput{Email: "a@b.co", Phone: "555"}, true},
		{"name and company", CandidateInput{Name: "Jo", Company: "Acme"}, true},
		{"one-letter name does not count", CandidateInput{Name: "J", Company: "Acme"}, false},
		{"whitespace is absent", CandidateInput{Name: "  ", Email: "a@b.co"}, false},
		{"single field", CandidateInput{Phone: "5551234"}, false},
		{"all four", CandidateInput{Name: "Jo Lee", Email: "a@b.co", Phone: "1", Company: "X"}, true},
		{"phone without digits is absent", CandidateInput{Email: "a@b.co", Phone: "n/a"}, false},
		{"punctuation-only phone is absent", CandidateInput{Company: "Acme", Phone: "( ) -"}, false},
		{"punctuation-only company is absent", CandidateInput{Email: "a@b.co", Company: "..."}, false},
		{"blank-local email is absent", CandidateInput{Email: "   ", Phone: "555"}, false},
	}
	e := &Engine{norm: normalize.Default()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sufficient(tt.c.Name, e.normalizeCandidate(tt.c)))
		})
	}
}

func TestValidateWarningID(t *testing.T) {
	assert.NoError(t, ValidateWarningID("0b7f4a34-7a43-4bb5-9c8f-6c1f0d3b1a10"))

	for _, id := range []string{"", "W1", "not-a-uuid", "{0b7f4a34-7a43-4bb5-9c8f-6c1f0d3b1a10}", "0b7f4a347a434bb59c8f6c1f0d3b1a10"} {
		err := ValidateWarningID(id)
		assert.Error(t, err, id)
		assert.True(t, IsValidation(err), id)
	}
}

func TestValidateCheck_AcceptsTrimmedEmail(t *testing.T) {
	err := validateCheck(CandidateInput{Email: "  john@acme.com "}, "U1", ActionLeadUpdate)
	assert.NoError(t, err)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid email: is not a valid email address", invalid("email", "is not a valid email address").Error())
	assert.Equal(t, "warning not found: W1", (&NotFoundError{Entity: "warning", ID: "W1"}).Error())
	assert.False(t, IsNotFound(invalid("x", "y")))
}
