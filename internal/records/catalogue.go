package records

import (
	"fmt"
	"strings"
)

const (
	ReferenceIndividual = "individual"
	ReferenceCompany    = "company"
)

// FieldGroup is a set of client fields gathered by a single question.
type FieldGroup struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	Question string   `json:"question"`
	Fields   []string `json:"fields"`
}

var individualGroups = []FieldGroup{
	{Key: "full_legal_name", Title: "Full legal name", Question: "What is your full legal name? (First, Middle, Last)",
		Fields: []string{"first_name", "middle_name", "last_name"}},
	{Key: "date_of_birth", Title: "Date of birth", Question: "What is your date of birth? (MM/DD/YYYY)",
		Fields: []string{"birth_date"}},
	{Key: "current_us_address", Title: "Current US address", Question: "What is your complete current US address? (Street, Apt/Unit, City, State, ZIP, Country)",
		Fields: []string{"address1", "address2", "city", "state", "zip", "country"}},
	{Key: "occupation_and_income_source", Title: "Occupation", Question: "What is your current occupation and source of US income?",
		Fields: []string{"occupation", "source_of_us_income"}},
	{Key: "itin", Title: "ITIN", Question: "Do you have an ITIN? If yes, what is it?",
		Fields: []string{"itin"}},
	{Key: "passport", Title: "Passport", Question: "What is your passport number, issuing country, and expiration date?",
		Fields: []string{"passport_number", "passport_country", "passport_expiry"}},
	{Key: "visa", Title: "Visa", Question: "What is your visa type and which country issued it?",
		Fields: []string{"visa_type", "visa_issue_country"}},
	{Key: "us_entry_exit_dates", Title: "US entry and exit dates", Question: "What was your first entry date to the US and your last exit date? (MM/DD/YYYY for both)",
		Fields: []string{"first_entry_date_us", "last_exit_date_us"}},
	{Key: "days_in_us", Title: "Days in the US", Question: "How many days were you physically present in the US during the current tax year, previous year, and two years ago?",
		Fields: []string{"days_in_us_current_year", "days_in_us_prev_year", "days_in_us_prev2_years"}},
	{Key: "treaty_claim", Title: "Treaty claim", Question: "Are you claiming tax treaty benefits? If yes, which country and treaty article, what type of income is covered, what is the exempt amount, and are you a resident of the treaty country?",
		Fields: []string{"treaty_claimed", "treaty_country", "treaty_article", "treaty_income_type", "treaty_exempt_amount", "resident_of_treaty_country"}},
	{Key: "income_amounts", Title: "Income amounts", Question: "What were your W-2 wages, 1042-S scholarship amounts, and your interest, dividend, capital gains, rental and self-employment (ECI) income?",
		Fields: []string{"w2_wages_amount", "scholarship_1042s_amount", "interest_amount", "dividend_amount", "capital_gains_amount", "rental_income_amount", "self_employment_eci_amount"}},
	{Key: "withholding_amounts", Title: "Withholding", Question: "How much federal tax was withheld from your W-2, 1042-S, and 1099 forms?",
		Fields: []string{"federal_withholding_w2", "federal_withholding_1042s", "tax_withheld_1099"}},
	{Key: "document_flags", Title: "Tax documents", Question: "Which of the following tax forms do you have: W-2, 1042-S, 1099, or K-1?",
		Fields: []string{"has_w2", "has_1042s", "has_1099", "has_k1"}},
	{Key: "itemized_deductions", Title: "Itemized deductions", Question: "What are your itemized deduction amounts for state/local taxes, charitable contributions, and casualty losses?",
		Fields: []string{"itemized_state_local_tax", "itemized_charity", "itemized_casualty_losses"}},
	{Key: "education_items", Title: "Education", Question: "What are your education-related expenses and student loan interest amounts?",
		Fields: []string{"education_expenses", "student_loan_interest"}},
	{Key: "dependents", Title: "Dependents", Question: "How many dependents do you have?",
		Fields: []string{"dependents_count"}},
	{Key: "refund_method", Title: "Refund method", Question: "What is your preferred refund method: check or ACH (direct deposit)?",
		Fields: []string{"refund_method"}},
	{Key: "bank_details", Title: "Bank details", Question: "If choosing direct deposit, what is your bank routing number and the last 4 digits of your account number?",
		Fields: []string{"bank_routing", "bank_account_last4"}},
}

var companyGroups = []FieldGroup{
	{Key: "full_legal_name", Title: "Company name", Question: "What is the full legal name of the company?",
		Fields: []string{"company_name"}},
	{Key: "current_us_address", Title: "Company address", Question: "What is the company's current US address? (Street, Suite, City, State, ZIP, Country)",
		Fields: []string{"address1", "address2", "city", "state", "zip", "country"}},
	{Key: "ein", Title: "EIN", Question: "What is the company's Employer Identification Number (EIN)?",
		Fields: []string{"ein"}},
	{Key: "incorporation", Title: "Incorporation", Question: "In which state or country was the company incorporated, on what date, and what is its entity type?",
		Fields: []string{"incorporation_state", "incorporation_date", "entity_type"}},
	{Key: "contact", Title: "Contact", Question: "Who is the primary contact for the company, and what are their email and phone number?",
		Fields: []string{"contact_name", "contact_email", "contact_phone"}},
	{Key: "business_activity", Title: "Business activity", Question: "What is the company's principal business activity and its source of US income?",
		Fields: []string{"occupation", "source_of_us_income"}},
}

// NormalizeReference lower-cases ref and checks it names a known client kind.
func NormalizeReference(ref string) (string, error) {
	r := strings.ToLower(strings.TrimSpace(ref))
	switch r {
	case ReferenceIndividual, ReferenceCompany:
		return r, nil
	default:
		return "", fmt.Errorf("reference must be %q or %q, got %q", ReferenceCompany, ReferenceIndividual, ref)
	}
}

// Groups returns the ordered field groups for a reference kind.
func Groups(reference string) ([]FieldGroup, error) {
	ref, err := NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	src := individualGroups
	if ref == ReferenceCompany {
		src = companyGroups
	}
	out := make([]FieldGroup, len(src))
	for i, g := range src {
		g.Fields = append([]string(nil), g.Fields...)
		out[i] = g
	}
	return out, nil
}

// Group looks up one group by key.
func Group(reference, key string) (FieldGroup, error) {
	groups, err := Groups(reference)
	if err != nil {
		return FieldGroup{}, err
	}
	for _, g := range groups {
		if g.Key == key {
			return g, nil
		}
	}
	return FieldGroup{}, fmt.Errorf("unknown field group %q for %s clients", key, reference)
}

// KnownField reports whether field belongs to any group of the reference kind.
func KnownField(reference, field string) bool {
	groups, err := Groups(reference)
	if err != nil {
		return false
	}
	for _, g := range groups {
		for _, f := range g.Fields {
			if f == field {
				return true
			}
		}
	}
	return false
}
