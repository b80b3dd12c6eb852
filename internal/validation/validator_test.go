package validation

import "testing"

func TestBasicValidationCompleteInvoice(t *testing.T) {
	text := `Invoice #1042
Date: 01/15/2026
Acme Corp
Total: $150.00`

	v := basicValidation(text)
	if !v.Valid {
		t.Errorf("Valid = false, issues = %v", v.Issues)
	}
	if len(v.Issues) != 0 {
		t.Errorf("Issues = %v, want none", v.Issues)
	}
	if v.NeedsManualReview {
		t.Error("NeedsManualReview = true, want false")
	}
}

func TestBasicValidationMissingTotal(t *testing.T) {
	text := `Invoice #1042
Date: 01/15/2026
Acme Corp`

	v := basicValidation(text)
	if v.Valid {
		t.Error("Valid = true, want false when the total is missing")
	}

	found := false
	for _, issue := range v.Issues {
		if issue.Field == "total" && issue.Severity == "error" {
			found = true
		}
	}
	if !found {
		t.Errorf("Issues = %v, want a total error", v.Issues)
	}
	if !v.NeedsManualReview {
		t.Error("NeedsManualReview = false, want true when issues exist")
	}
}

func TestBasicValidationWarningsStayValid(t *testing.T) {
	// No invoice number and no date are warnings; the amount is present so
	// the document is still valid.
	text := "Payment due: $99.95 to Acme Corp"

	v := basicValidation(text)
	if !v.Valid {
		t.Errorf("Valid = false, issues = %v", v.Issues)
	}
	if len(v.Issues) != 2 {
		t.Errorf("Issues = %v, want invoice_number and date warnings", v.Issues)
	}
	for _, issue := range v.Issues {
		if issue.Severity != "warning" {
			t.Errorf("issue %s severity = %s, want warning", issue.Field, issue.Severity)
		}
	}
}

func TestBasicValidationEmptyText(t *testing.T) {
	v := basicValidation("")
	if v.Valid {
		t.Error("Valid = true for empty text")
	}
	if len(v.Issues) != 3 {
		t.Errorf("Issues = %d, want 3", len(v.Issues))
	}
}
