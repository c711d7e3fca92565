// Package wire converts loan/client profiles into the provider's SOAP
// tariffication request and extracts tariffs from its XML responses.
package wire

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"loan_broker_backend/platform/apperr"
)

// Civility codes accepted by the provider.
const (
	CivilityMr   = "M"
	CivilityMrs  = "MME"
	CivilityMiss = "MLLE"
)

// Fallback codes sent when the profile leaves a risk field absent.
const (
	FallbackSmoker           = "0"
	FallbackProfession       = "AUTRE"
	FallbackBusinessTravel   = "0"
	FallbackManualLabor      = "0"
	FallbackCoveragePct      = 100
	FallbackLoanType         = "AMORTISSABLE"
	FallbackRateType         = "FIXE"
	FallbackFinancingPurpose = "RESIDENCE_PRINCIPALE"
	FallbackMembershipType   = "NOUVEAU_PRET"
)

// Address is a postal address of an insured person.
type Address struct {
	Line       string `json:"line" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	City       string `json:"city" validate:"required"`
	Country    string `json:"country,omitempty"`
}

// Person is one insured borrower. Pointer fields are optional: nil means the
// value was not captured, which is different from an explicit false or zero.
type Person struct {
	Civility           string    `json:"civility" validate:"required,civility"`
	Sex                string    `json:"sex,omitempty" validate:"omitempty,oneof=M F"`
	FirstName          string    `json:"firstName" validate:"required"`
	LastName           string    `json:"lastName" validate:"required"`
	BirthName          string    `json:"birthName,omitempty"`
	BirthDate          time.Time `json:"birthDate" validate:"required"`
	Smoker             *bool     `json:"smoker,omitempty"`
	ProfessionCategory *string   `json:"professionCategory,omitempty"`
	Address            Address   `json:"address"`
	Phone              string    `json:"phone,omitempty"`
	BusinessTravel     *bool     `json:"businessTravel,omitempty"`
	ManualLabor        *bool     `json:"manualLabor,omitempty"`
	CoveragePct        *int      `json:"coveragePct,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// LoanTerms describes the insured loan.
type LoanTerms struct {
	CapitalMinor     int64           `json:"capitalMinor" validate:"gt=0"`
	RatePct          decimal.Decimal `json:"ratePct"`
	DurationMonths   int             `json:"durationMonths" validate:"gte=1,lte=480"`
	LoanType         *string         `json:"loanType,omitempty"`
	RateType         *string         `json:"rateType,omitempty"`
	FinancingPurpose *string         `json:"financingPurpose,omitempty"`
	MembershipType   *string         `json:"membershipType,omitempty"`
	EffectiveDate    time.Time       `json:"effectiveDate"`
}

// Profile is the loan/client risk profile priced by the provider.
type Profile struct {
	Principal  Person    `json:"principal"`
	CoBorrower *Person   `json:"coBorrower,omitempty"`
	Couple     bool      `json:"couple"`
	Loan       LoanTerms `json:"loan"`
}

// Persons returns the insured persons in wire order.
func (p Profile) Persons() []Person {
	if p.CoBorrower == nil {
		return []Person{p.Principal}
	}
	return []Person{p.Principal, *p.CoBorrower}
}

// CheckInvariants enforces the structural rules that tags cannot express.
func (p Profile) CheckInvariants() error {
	if p.Couple != (p.CoBorrower != nil) {
		return apperr.Validation("co-borrower must be present exactly when the couple flag is set")
	}
	if p.Loan.CapitalMinor <= 0 {
		return apperr.Validation("loan capital must be positive")
	}
	if p.Loan.DurationMonths <= 0 {
		return apperr.Validation("loan duration must be positive")
	}
	if p.Loan.RatePct.IsNegative() {
		return apperr.Validation("loan rate cannot be negative")
	}
	for _, person := range p.Persons() {
		if _, err := InferSex(person); err != nil {
			return err
		}
		if person.CoveragePct != nil && (*person.CoveragePct < 0 || *person.CoveragePct > 100) {
			return apperr.Validation("coverage must be between 0 and 100")
		}
	}
	return nil
}

// Resolved is a wire code and whether it came from a documented fallback.
type Resolved struct {
	Value           string
	FallbackApplied bool
}

// PersonRisk holds the resolved risk codes of one insured person.
type PersonRisk struct {
	Smoker         Resolved
	Profession     Resolved
	BusinessTravel Resolved
	ManualLabor    Resolved
	Coverage       Resolved
}

// LoanCodes holds the resolved loan classification codes.
type LoanCodes struct {
	LoanType         Resolved
	RateType         Resolved
	FinancingPurpose Resolved
	MembershipType   Resolved
}

// ResolvePersonRisk maps optional risk fields to wire codes. Only nil fields
// receive a fallback.
func ResolvePersonRisk(p Person) PersonRisk {
	coverage := Resolved{Value: strconv.Itoa(FallbackCoveragePct), FallbackApplied: true}
	if p.CoveragePct != nil {
		coverage = Resolved{Value: strconv.Itoa(*p.CoveragePct)}
	}

	return PersonRisk{
		Smoker:         resolveFlag(p.Smoker, FallbackSmoker),
		Profession:     resolveCode(p.ProfessionCategory, FallbackProfession),
		BusinessTravel: resolveFlag(p.BusinessTravel, FallbackBusinessTravel),
		ManualLabor:    resolveFlag(p.ManualLabor, FallbackManualLabor),
		Coverage:       coverage,
	}
}

// ResolveLoanCodes maps optional loan classification fields to wire codes.
func ResolveLoanCodes(l LoanTerms) LoanCodes {
	return LoanCodes{
		LoanType:         resolveCode(l.LoanType, FallbackLoanType),
		RateType:         resolveCode(l.RateType, FallbackRateType),
		FinancingPurpose: resolveCode(l.FinancingPurpose, FallbackFinancingPurpose),
		MembershipType:   resolveCode(l.MembershipType, FallbackMembershipType),
	}
}

// InferSex returns the explicit sex or derives it from the civility.
func InferSex(p Person) (string, error) {
	if sex := strings.ToUpper(strings.TrimSpace(p.Sex)); sex != "" {
		if sex != "M" && sex != "F" {
			return "", apperr.Validation("sex must be M or F")
		}
		return sex, nil
	}
	switch strings.ToUpper(strings.TrimSpace(p.Civility)) {
	case CivilityMr:
		return "M", nil
	case CivilityMrs, CivilityMiss:
		return "F", nil
	default:
		return "", apperr.Validation("unknown civility " + strconv.Quote(p.Civility))
	}
}

func resolveFlag(value *bool, fallback string) Resolved {
	if value == nil {
		return Resolved{Value: fallback, FallbackApplied: true}
	}
	if *value {
		return Resolved{Value: "1"}
	}
	return Resolved{Value: "0"}
}

// An explicit empty string counts as provided: it is sent as-is so the
// provider rejects it rather than pricing a guessed code.
func resolveCode(value *string, fallback string) Resolved {
	if value == nil {
		return Resolved{Value: fallback, FallbackApplied: true}
	}
	return Resolved{Value: strings.TrimSpace(*value)}
}
