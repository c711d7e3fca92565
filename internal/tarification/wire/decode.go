package wire

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const maxUnescapePasses = 3

// Tariff is one usable offer returned by the provider.
type Tariff struct {
	ID                 string          `json:"id"`
	Insurer            string          `json:"insurer"`
	Product            string          `json:"product"`
	TotalCostMinor     int64           `json:"totalCostMinor"`
	MonthlyMinor       int64           `json:"monthlyMinor"`
	MedicalFormalities []string        `json:"medicalFormalities,omitempty"`
	LemoineCompatible  bool            `json:"lemoineCompatible"`
	Rate               decimal.Decimal `json:"rate"`
	CommissionCode     string          `json:"commissionCode,omitempty"`
	Errors             []string        `json:"errors,omitempty"`
}

// Priced reports whether the provider attached a cost to the tariff.
func (t Tariff) Priced() bool {
	return t.TotalCostMinor > 0
}

// Document is a contractual document referenced by the provider.
type Document struct {
	Type  string `json:"type,omitempty"`
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Response is the decoded provider answer.
type Response struct {
	SimulationID string     `json:"simulationId,omitempty"`
	Tariffs      []Tariff   `json:"tariffs"`
	Documents    []Document `json:"documents,omitempty"`
	Errors       []string   `json:"errors,omitempty"`
	Fault        string     `json:"fault,omitempty"`
}

// FindTariff returns the tariff with the given id.
func (r *Response) FindTariff(id string) (Tariff, bool) {
	for _, t := range r.Tariffs {
		if t.ID == id {
			return t, true
		}
	}
	return Tariff{}, false
}

// ApplyDuration derives the monthly installment of every tariff,
// rounding half-up to the minor unit.
func (r *Response) ApplyDuration(months int) {
	if months <= 0 {
		return
	}
	div := decimal.NewFromInt(int64(months))
	for i := range r.Tariffs {
		r.Tariffs[i].MonthlyMinor = decimal.NewFromInt(r.Tariffs[i].TotalCostMinor).
			Div(div).Round(0).IntPart()
	}
}

// DecodeError reports a payload that could not be scanned.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode provider response: %s: %v", e.Reason, e.Err)
	}
	return "decode provider response: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode extracts tariffs, documents, errors and the simulation id from a
// provider payload. The payload must already be UTF-8. Entity-escaped and
// CDATA-wrapped inner documents are scanned as if they were inline.
func Decode(raw []byte) (*Response, error) {
	text := string(bytes.TrimSpace(raw))
	if text == "" {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	text = unescapeMarkup(text)

	sc := &scanner{seen: make(map[string]struct{})}
	if err := sc.scan(text, 0); err != nil {
		return nil, err
	}
	if !sc.sawMarkup {
		return nil, &DecodeError{Reason: "no markup found"}
	}

	resp := sc.resp
	if resp.Tariffs == nil {
		resp.Tariffs = []Tariff{}
	}
	return &resp, nil
}

type tariffBuilder struct {
	tariff    Tariff
	costErr   error
	inErrors  bool
	inFormals bool
}

type documentBuilder struct {
	doc      Document
	children bool
}

type scanner struct {
	resp      Response
	seen      map[string]struct{}
	sawMarkup bool
}

func (s *scanner) scan(text string, depth int) error {
	if depth > maxUnescapePasses {
		return &DecodeError{Reason: "inner documents nested too deeply"}
	}

	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var (
		buf      strings.Builder
		tariff   *tariffBuilder
		document *documentBuilder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &DecodeError{Reason: "malformed xml", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			s.sawMarkup = true
			name := strings.ToLower(t.Name.Local)
			buf.Reset()

			switch name {
			case "tarif", "tariff":
				if tariff == nil {
					tariff = &tariffBuilder{}
				}
			case "document":
				if tariff == nil {
					document = &documentBuilder{}
				}
			case "listeerreurs":
				if tariff != nil {
					tariff.inErrors = true
				}
			case "formalites_medicales":
				if tariff != nil {
					tariff.inFormals = true
				}
			}
			if document != nil && name != "document" {
				document.children = true
			}

		case xml.CharData:
			trimmed := strings.TrimSpace(string(t))
			if strings.HasPrefix(trimmed, "&") {
				trimmed = unescapeMarkup(trimmed)
			}
			if strings.HasPrefix(trimmed, "<") {
				if err := s.scan(trimmed, depth+1); err != nil {
					return err
				}
				continue
			}
			buf.Write(t)

		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			value := strings.TrimSpace(buf.String())
			buf.Reset()

			switch {
			case name == "tarif" || name == "tariff":
				if tariff != nil {
					s.addTariff(tariff)
					tariff = nil
				}
			case tariff != nil:
				tariff.set(name, value)
			case name == "document" && document != nil:
				if !document.children && document.doc.Label == "" {
					document.doc.Label = value
				}
				if document.doc.Label != "" || document.doc.URL != "" {
					s.resp.Documents = append(s.resp.Documents, document.doc)
				}
				document = nil
			case document != nil:
				document.set(name, value)
			case name == "erreur" || name == "message_erreur":
				if value != "" {
					s.resp.Errors = append(s.resp.Errors, value)
				}
			case name == "id_simulation":
				if s.resp.SimulationID == "" {
					s.resp.SimulationID = value
				}
			case name == "faultstring":
				if s.resp.Fault == "" {
					s.resp.Fault = value
				}
			}
		}
	}
	return nil
}

// unescapeMarkup undoes up to maxUnescapePasses layers of entity escaping.
func unescapeMarkup(text string) string {
	for pass := 0; pass < maxUnescapePasses && hasEscapedMarkup(text); pass++ {
		text = html.UnescapeString(text)
	}
	return text
}

func hasEscapedMarkup(text string) bool {
	return strings.Contains(text, "&lt;") || strings.Contains(text, "&amp;lt;")
}

func (s *scanner) addTariff(b *tariffBuilder) {
	t := b.tariff
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return
	}
	if _, dup := s.seen[t.ID]; dup {
		return
	}
	if b.costErr != nil {
		t.Errors = append(t.Errors, "unparsable cost: "+b.costErr.Error())
	}
	s.seen[t.ID] = struct{}{}
	s.resp.Tariffs = append(s.resp.Tariffs, t)
}

func (b *tariffBuilder) set(name, value string) {
	switch name {
	case "id_tarif", "id":
		if b.tariff.ID == "" {
			b.tariff.ID = value
		}
	case "compagnie", "assureur":
		b.tariff.Insurer = value
	case "produit", "libelle_produit":
		b.tariff.Product = value
	case "cout_total":
		cost, err := parseMinor(value)
		if err != nil {
			b.costErr = err
			return
		}
		b.tariff.TotalCostMinor = cost
	case "taux_assurance":
		if rate, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ".")); err == nil {
			b.tariff.Rate = rate
		}
	case "compatible_lemoine":
		b.tariff.LemoineCompatible = parseFlag(value)
	case "code_commission":
		b.tariff.CommissionCode = value
	case "formalite":
		if b.inFormals && value != "" {
			b.tariff.MedicalFormalities = append(b.tariff.MedicalFormalities, value)
		}
	case "formalites_medicales":
		b.inFormals = false
	case "erreur", "message_erreur":
		if b.inErrors && value != "" {
			b.tariff.Errors = append(b.tariff.Errors, value)
		}
	case "listeerreurs":
		b.inErrors = false
	}
}

func (d *documentBuilder) set(name, value string) {
	switch name {
	case "type", "type_document":
		d.doc.Type = value
	case "libelle", "nom", "label":
		d.doc.Label = value
	case "url", "lien":
		d.doc.URL = value
	}
}

// parseMinor reads integer cents; values with a decimal separator are
// treated as major units.
func parseMinor(value string) (int64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	if value == "" {
		return 0, errors.New("empty")
	}
	if !strings.ContainsAny(value, ".,") {
		return strconv.ParseInt(value, 10, 64)
	}
	major, err := decimal.NewFromString(strings.ReplaceAll(value, ",", "."))
	if err != nil {
		return 0, err
	}
	return major.Shift(2).Round(0).IntPart(), nil
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "oui", "o", "yes":
		return true
	default:
		return false
	}
}
