// Package catalog holds the insurer commission tier table used to decide
// which commission codes may be sent to the provider for which insurer.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"loan_broker_backend/platform/config"
)

//go:embed commission_codes.yaml
var embeddedTable []byte

// Code is one commission tier of an insurer.
type Code struct {
	Code      string          `json:"code"`
	Label     string          `json:"label"`
	RateLabel string          `json:"rateLabel"`
	Rate      decimal.Decimal `json:"rate"`
	IsDefault bool            `json:"isDefault"`
}

// Insurer is an insurer known to the catalog with its ordered tiers.
type Insurer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Codes []Code `json:"codes"`
}

// Catalog is an immutable lookup table. Safe for concurrent use.
type Catalog struct {
	insurers []Insurer
	byID     map[string]int
	byCode   map[string]string
	aliases  map[string]string
}

type fileTable struct {
	Insurers []struct {
		ID      string   `yaml:"id"`
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
		Codes   []struct {
			Code    string `yaml:"code"`
			Label   string `yaml:"label"`
			Rate    string `yaml:"rate"`
			Default bool   `yaml:"default"`
		} `yaml:"codes"`
	} `yaml:"insurers"`
}

// New loads the override file when configured, otherwise the embedded table.
func New(cfg config.CatalogConfig) (*Catalog, error) {
	path := strings.TrimSpace(cfg.GetCommissionCatalogPath())
	if path == "" {
		return Load(embeddedTable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commission catalog %s: %w", path, err)
	}
	return Load(data)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Load(embeddedTable)
}

// Load parses and validates a YAML commission table.
func Load(data []byte) (*Catalog, error) {
	var table fileTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse commission catalog: %w", err)
	}
	if len(table.Insurers) == 0 {
		return nil, fmt.Errorf("commission catalog has no insurers")
	}

	c := &Catalog{
		byID:    make(map[string]int),
		byCode:  make(map[string]string),
		aliases: make(map[string]string),
	}
	hundred := decimal.NewFromInt(100)

	for _, raw := range table.Insurers {
		id := normalize(raw.ID)
		if id == "" {
			return nil, fmt.Errorf("commission catalog: insurer without id")
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("commission catalog: duplicate insurer %s", id)
		}

		insurer := Insurer{ID: id, Name: strings.TrimSpace(raw.Name)}
		defaults := 0
		for _, rc := range raw.Codes {
			code := strings.TrimSpace(rc.Code)
			if code == "" {
				return nil, fmt.Errorf("commission catalog: insurer %s has a code without value", id)
			}
			if owner, dup := c.byCode[code]; dup {
				return nil, fmt.Errorf("commission catalog: code %s used by %s and %s", code, owner, id)
			}
			rate, err := decimal.NewFromString(strings.TrimSpace(rc.Rate))
			if err != nil {
				return nil, fmt.Errorf("commission catalog: code %s rate: %w", code, err)
			}
			if rate.IsNegative() || rate.GreaterThan(hundred) {
				return nil, fmt.Errorf("commission catalog: code %s rate %s out of range", code, rate)
			}
			if rc.Default {
				defaults++
			}
			c.byCode[code] = id
			insurer.Codes = append(insurer.Codes, Code{
				Code:      code,
				Label:     strings.TrimSpace(rc.Label),
				RateLabel: rate.String() + " %",
				Rate:      rate,
				IsDefault: rc.Default,
			})
		}
		if defaults != 1 {
			return nil, fmt.Errorf("commission catalog: insurer %s must have exactly one default code, has %d", id, defaults)
		}

		c.byID[id] = len(c.insurers)
		c.insurers = append(c.insurers, insurer)
		c.aliases[id] = id
		if insurer.Name != "" {
			c.aliases[normalize(insurer.Name)] = id
		}
		for _, alias := range raw.Aliases {
			c.aliases[normalize(alias)] = id
		}
	}
	return c, nil
}

// Insurers lists catalog insurers sorted by id.
func (c *Catalog) Insurers() []Insurer {
	out := make([]Insurer, len(c.insurers))
	for i, ins := range c.insurers {
		out[i] = Insurer{ID: ins.ID, Name: ins.Name, Codes: append([]Code(nil), ins.Codes...)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CodesForInsurer returns the ordered tiers of an insurer, or nil when unknown.
func (c *Catalog) CodesForInsurer(insurerID string) []Code {
	idx, ok := c.byID[normalize(insurerID)]
	if !ok {
		return nil
	}
	return append([]Code(nil), c.insurers[idx].Codes...)
}

// InsurerForCode returns the insurer owning a commission code.
func (c *Catalog) InsurerForCode(code string) (string, bool) {
	id, ok := c.byCode[strings.TrimSpace(code)]
	return id, ok
}

// Lookup returns a commission code entry.
func (c *Catalog) Lookup(code string) (Code, bool) {
	id, ok := c.InsurerForCode(code)
	if !ok {
		return Code{}, false
	}
	for _, entry := range c.insurers[c.byID[id]].Codes {
		if entry.Code == strings.TrimSpace(code) {
			return entry, true
		}
	}
	return Code{}, false
}

// DefaultCode returns the designated default tier of an insurer.
func (c *Catalog) DefaultCode(insurerID string) (Code, bool) {
	for _, code := range c.CodesForInsurer(insurerID) {
		if code.IsDefault {
			return code, true
		}
	}
	return Code{}, false
}

// IsLegal reports whether code belongs to the insurer.
func (c *Catalog) IsLegal(insurerID, code string) bool {
	owner, ok := c.InsurerForCode(code)
	return ok && owner == normalize(insurerID)
}

// ResolveInsurer maps a provider insurer label to a catalog insurer id.
func (c *Catalog) ResolveInsurer(name string) (string, bool) {
	id, ok := c.aliases[normalize(name)]
	return id, ok
}

func normalize(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
