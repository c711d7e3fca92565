package wire

import (
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"loan_broker_backend/platform/apperr"
)

func boolPtr(v bool) *bool { return &v }
func strPtr(v string) *string { return &v }
func intPtr(v int) *int { return &v }
func int64Ptr(v int64) *int64 { return &v }

func testPerson(civility string) Person {
	return Person{
		Civility:  civility,
		FirstName: "Claire",
		LastName:  "Martin",
		BirthDate: time.Date(1985, time.March, 7, 0, 0, 0, 0, time.UTC),
		Address:   Address{Line: "12 rue des Lilas", PostalCode: "69003", City: "Lyon"},
	}
}

func testProfile() Profile {
	return Profile{
		Principal: testPerson(CivilityMrs),
		Loan: LoanTerms{
			CapitalMinor:   25000000,
			RatePct:        decimal.RequireFromString("3.5"),
			DurationMonths: 240,
			EffectiveDate:  time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func testCreds() Credentials {
	return Credentials{PartnerCode: "BRK001", LicenceKey: "LIC-XYZ"}
}

func innerRequest(t *testing.T, msg *Message) tarificationRequest {
	t.Helper()
	body := string(msg.Body)
	start := strings.Index(body, "<![CDATA[")
	end := strings.Index(body, "]]>")
	if start < 0 || end < start {
		t.Fatalf("expected CDATA inner request, got %s", body)
	}
	var req tarificationRequest
	if err := xml.Unmarshal([]byte(body[start+len("<![CDATA["):end]), &req); err != nil {
		t.Fatalf("unmarshal inner request: %v", err)
	}
	return req
}

func TestEncodeSinglePersonAppliesFallbacks(t *testing.T) {
	msg, err := Encode(testProfile(), testCreds(), EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(msg.Body), "soap:Envelope") {
		t.Fatalf("expected soap envelope, got %s", msg.Body)
	}

	req := innerRequest(t, msg)
	if req.Operation != OperationFullPricing {
		t.Fatalf("expected full pricing operation, got %q", req.Operation)
	}
	if req.Licence != "LIC-XYZ" || req.PartnerCode != "BRK001" {
		t.Fatalf("unexpected credentials: %+v", req)
	}
	if len(req.Simulation.Insured) != 1 {
		t.Fatalf("expected one insured, got %d", len(req.Simulation.Insured))
	}

	insured := req.Simulation.Insured[0]
	if insured.Sex != "F" {
		t.Fatalf("expected sex inferred from MME, got %q", insured.Sex)
	}
	if insured.BirthDate != "19850307" {
		t.Fatalf("expected compact birth date, got %q", insured.BirthDate)
	}
	if insured.Smoker != FallbackSmoker || insured.Profession != FallbackProfession {
		t.Fatalf("expected fallback risk codes, got %+v", insured)
	}

	loan := req.Simulation.Loan
	if loan.Capital != 25000000 || loan.Rate != "3.50" || loan.Duration != 240 {
		t.Fatalf("unexpected loan node: %+v", loan)
	}
	if loan.LoanType != FallbackLoanType || loan.RateType != FallbackRateType {
		t.Fatalf("expected fallback loan codes, got %+v", loan)
	}
	if loan.EffectiveDate != "20261101" {
		t.Fatalf("expected effective date, got %q", loan.EffectiveDate)
	}
	if req.Simulation.Guarantees[0].Coverage != "100" {
		t.Fatalf("expected default coverage, got %q", req.Simulation.Guarantees[0].Coverage)
	}

	// 5 person risk fields + 4 loan codes
	if len(msg.Fallbacks) != 9 {
		t.Fatalf("expected 9 fallbacks, got %d: %+v", len(msg.Fallbacks), msg.Fallbacks)
	}
}

func TestEncodeKeepsExplicitFalseAndZero(t *testing.T) {
	profile := testProfile()
	profile.Principal.Smoker = boolPtr(false)
	profile.Principal.BusinessTravel = boolPtr(true)
	profile.Principal.ManualLabor = boolPtr(false)
	profile.Principal.ProfessionCategory = strPtr("CADRE")
	profile.Principal.CoveragePct = intPtr(0)
	profile.Loan.LoanType = strPtr("IN_FINE")
	profile.Loan.RateType = strPtr("VARIABLE")
	profile.Loan.FinancingPurpose = strPtr("INVESTISSEMENT_LOCATIF")
	profile.Loan.MembershipType = strPtr("SUBSTITUTION")

	msg, err := Encode(profile, testCreds(), EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(msg.Fallbacks) != 0 {
		t.Fatalf("expected no fallbacks, got %+v", msg.Fallbacks)
	}

	req := innerRequest(t, msg)
	insured := req.Simulation.Insured[0]
	if insured.Smoker != "0" || insured.BusinessTravel != "1" || insured.Profession != "CADRE" {
		t.Fatalf("explicit values not preserved: %+v", insured)
	}
	if req.Simulation.Guarantees[0].Coverage != "0" {
		t.Fatalf("explicit zero coverage replaced: %q", req.Simulation.Guarantees[0].Coverage)
	}
	if req.Simulation.Guarantees[0].MembershipType != "SUBSTITUTION" {
		t.Fatalf("unexpected membership type: %q", req.Simulation.Guarantees[0].MembershipType)
	}
}

func TestEncodeCoupleAndTargetedOptions(t *testing.T) {
	profile := testProfile()
	co := testPerson(CivilityMr)
	co.FirstName = "Paul"
	co.Phone = "06 12 34 56 78"
	profile.CoBorrower = &co
	profile.Couple = true

	msg, err := Encode(profile, testCreds(), EncodeOptions{
		CommissionCode: "AXA-15",
		TargetTariffID: "T-42",
		BrokerFeeMinor: int64Ptr(45000),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	req := innerRequest(t, msg)
	if req.Operation != OperationTargetedQuote || req.TariffID != "T-42" {
		t.Fatalf("expected targeted operation on T-42, got %q/%q", req.Operation, req.TariffID)
	}
	if req.CommissionCode != "AXA-15" || req.BrokerFee == nil || *req.BrokerFee != 45000 {
		t.Fatalf("unexpected commission options: %+v", req)
	}
	if len(req.Simulation.Insured) != 2 || len(req.Simulation.Guarantees) != 2 {
		t.Fatalf("expected two insured and two guarantees, got %d/%d",
			len(req.Simulation.Insured), len(req.Simulation.Guarantees))
	}
	second := req.Simulation.Insured[1]
	if second.Number != 2 || second.Sex != "M" {
		t.Fatalf("unexpected co-borrower node: %+v", second)
	}
	if second.Phone != "+33612345678" {
		t.Fatalf("expected E.164 phone, got %q", second.Phone)
	}
}

func TestEncodeRejectsCoupleMismatch(t *testing.T) {
	profile := testProfile()
	profile.Couple = true

	_, err := Encode(profile, testCreds(), EncodeOptions{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	co := testPerson(CivilityMr)
	profile.Couple = false
	profile.CoBorrower = &co
	if _, err := Encode(profile, testCreds(), EncodeOptions{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for orphan co-borrower, got %v", err)
	}
}

func TestEncodeRejectsUnknownCivilityWithoutSex(t *testing.T) {
	profile := testProfile()
	profile.Principal.Civility = "DR"

	_, err := Encode(profile, testCreds(), EncodeOptions{})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	profile.Principal.Sex = "M"
	if _, err := Encode(profile, testCreds(), EncodeOptions{}); err != nil {
		t.Fatalf("explicit sex should bypass civility inference: %v", err)
	}
}

func TestEncodeOmitsUnparsablePhone(t *testing.T) {
	profile := testProfile()
	profile.Principal.Phone = "not-a-number"

	msg, err := Encode(profile, testCreds(), EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(msg.Notices) != 1 {
		t.Fatalf("expected a phone notice, got %+v", msg.Notices)
	}
	if req := innerRequest(t, msg); req.Simulation.Insured[0].Phone != "" {
		t.Fatalf("expected phone omitted, got %q", req.Simulation.Insured[0].Phone)
	}
}

func TestEncodeRequiresCredentials(t *testing.T) {
	_, err := Encode(testProfile(), Credentials{PartnerCode: "BRK001"}, EncodeOptions{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
