package wire

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/phone"
)

// Operation types understood by the provider.
const (
	OperationFullPricing   = "1"
	OperationTargetedQuote = "2"
)

const (
	soapNamespace    = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNamespace = "urn:tarification"
	compactDate      = "20060102"
)

// Credentials identify the broker towards the provider.
type Credentials struct {
	PartnerCode string
	LicenceKey  string
}

// EncodeOptions tune a single request.
type EncodeOptions struct {
	CommissionCode string
	TargetTariffID string
	BrokerFeeMinor *int64
}

// Fallback records a field that was absent and sent with its default code.
type Fallback struct {
	Field string
	Value string
}

// Message is an encoded request ready to POST.
type Message struct {
	Body      []byte
	Operation string
	Fallbacks []Fallback
	Notices   []string
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	Call tariferCall `xml:"Tarifer"`
}

type tariferCall struct {
	NS      string    `xml:"xmlns,attr"`
	Request cdataText `xml:"xmlRequest"`
}

type cdataText struct {
	Value string `xml:",cdata"`
}

type tarificationRequest struct {
	XMLName        xml.Name       `xml:"tarification"`
	Licence        string         `xml:"licence"`
	PartnerCode    string         `xml:"code_courtier"`
	Operation      string         `xml:"type_operation"`
	TariffID       string         `xml:"id_tarif,omitempty"`
	CommissionCode string         `xml:"code_commission,omitempty"`
	BrokerFee      *int64         `xml:"frais_courtage,omitempty"`
	Simulation     simulationNode `xml:"simulation"`
}

type simulationNode struct {
	Insured    []insuredNode   `xml:"assure"`
	Loan       loanNode        `xml:"pret"`
	Guarantees []guaranteeNode `xml:"garantie_pret"`
}

type insuredNode struct {
	Number         int    `xml:"numero,attr"`
	Civility       string `xml:"civilite"`
	Sex            string `xml:"sexe"`
	LastName       string `xml:"nom"`
	BirthName      string `xml:"nom_naissance,omitempty"`
	FirstName      string `xml:"prenom"`
	BirthDate      string `xml:"date_naissance"`
	Smoker         string `xml:"fumeur"`
	Profession     string `xml:"categorie_professionnelle"`
	BusinessTravel string `xml:"deplacement_pro"`
	ManualLabor    string `xml:"travaux_manuels"`
	Address        string `xml:"adresse"`
	PostalCode     string `xml:"code_postal"`
	City           string `xml:"ville"`
	Phone          string `xml:"telephone,omitempty"`
}

type loanNode struct {
	Number           int    `xml:"numero,attr"`
	Capital          int64  `xml:"capital"`
	Rate             string `xml:"taux"`
	Duration         int    `xml:"duree"`
	LoanType         string `xml:"type_pret"`
	RateType         string `xml:"type_taux"`
	FinancingPurpose string `xml:"objet_financement"`
	EffectiveDate    string `xml:"date_effet,omitempty"`
}

type guaranteeNode struct {
	Insured        int    `xml:"assure,attr"`
	Loan           int    `xml:"pret,attr"`
	MembershipType string `xml:"type_adhesion"`
	Coverage       string `xml:"quotite"`
}

// Encode builds the SOAP request for a profile. A TargetTariffID switches the
// operation to a targeted recalculation of that tariff only.
func Encode(profile Profile, creds Credentials, opts EncodeOptions) (*Message, error) {
	if err := profile.CheckInvariants(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(creds.PartnerCode) == "" || strings.TrimSpace(creds.LicenceKey) == "" {
		return nil, apperr.Validation("provider credentials are incomplete")
	}
	if opts.BrokerFeeMinor != nil && *opts.BrokerFeeMinor < 0 {
		return nil, apperr.Validation("broker fee cannot be negative")
	}

	msg := &Message{Operation: OperationFullPricing}
	if opts.TargetTariffID != "" {
		msg.Operation = OperationTargetedQuote
	}

	req := tarificationRequest{
		Licence:        creds.LicenceKey,
		PartnerCode:    creds.PartnerCode,
		Operation:      msg.Operation,
		TariffID:       opts.TargetTariffID,
		CommissionCode: opts.CommissionCode,
		BrokerFee:      opts.BrokerFeeMinor,
	}

	for i, person := range profile.Persons() {
		number := i + 1
		node, coverage, err := encodeInsured(number, person, msg)
		if err != nil {
			return nil, err
		}
		req.Simulation.Insured = append(req.Simulation.Insured, node)
		req.Simulation.Guarantees = append(req.Simulation.Guarantees, guaranteeNode{
			Insured:  number,
			Loan:     1,
			Coverage: coverage,
		})
	}

	codes := ResolveLoanCodes(profile.Loan)
	msg.track("pret[1].type_pret", codes.LoanType)
	msg.track("pret[1].type_taux", codes.RateType)
	msg.track("pret[1].objet_financement", codes.FinancingPurpose)
	msg.track("pret[1].type_adhesion", codes.MembershipType)

	req.Simulation.Loan = loanNode{
		Number:           1,
		Capital:          profile.Loan.CapitalMinor,
		Rate:             profile.Loan.RatePct.StringFixed(2),
		Duration:         profile.Loan.DurationMonths,
		LoanType:         codes.LoanType.Value,
		RateType:         codes.RateType.Value,
		FinancingPurpose: codes.FinancingPurpose.Value,
		EffectiveDate:    formatDate(profile.Loan.EffectiveDate),
	}
	for i := range req.Simulation.Guarantees {
		req.Simulation.Guarantees[i].MembershipType = codes.MembershipType.Value
	}

	inner, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tarification request: %w", err)
	}

	env := soapEnvelope{
		SoapNS: soapNamespace,
		Body: soapBody{Call: tariferCall{
			NS:      serviceNamespace,
			Request: cdataText{Value: string(inner)},
		}},
	}
	body, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal soap envelope: %w", err)
	}

	msg.Body = append([]byte(xml.Header), body...)
	return msg, nil
}

func encodeInsured(number int, person Person, msg *Message) (insuredNode, string, error) {
	sex, err := InferSex(person)
	if err != nil {
		return insuredNode{}, "", err
	}

	prefix := "assure[" + strconv.Itoa(number) + "]."
	risk := ResolvePersonRisk(person)
	msg.track(prefix+"fumeur", risk.Smoker)
	msg.track(prefix+"categorie_professionnelle", risk.Profession)
	msg.track(prefix+"deplacement_pro", risk.BusinessTravel)
	msg.track(prefix+"travaux_manuels", risk.ManualLabor)
	msg.track(prefix+"quotite", risk.Coverage)

	tel, ok := phone.NormalizeE164(person.Phone)
	if !ok {
		msg.Notices = append(msg.Notices, prefix+"telephone omitted: unparsable number")
	}

	return insuredNode{
		Number:         number,
		Civility:       strings.ToUpper(strings.TrimSpace(person.Civility)),
		Sex:            sex,
		LastName:       strings.TrimSpace(person.LastName),
		BirthName:      strings.TrimSpace(person.BirthName),
		FirstName:      strings.TrimSpace(person.FirstName),
		BirthDate:      formatDate(person.BirthDate),
		Smoker:         risk.Smoker.Value,
		Profession:     risk.Profession.Value,
		BusinessTravel: risk.BusinessTravel.Value,
		ManualLabor:    risk.ManualLabor.Value,
		Address:        strings.TrimSpace(person.Address.Line),
		PostalCode:     strings.TrimSpace(person.Address.PostalCode),
		City:           strings.TrimSpace(person.Address.City),
		Phone:          tel,
	}, risk.Coverage.Value, nil
}

func (m *Message) track(field string, r Resolved) {
	if r.FallbackApplied {
		m.Fallbacks = append(m.Fallbacks, Fallback{Field: field, Value: r.Value})
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(compactDate)
}
