// Package optimizer sweeps commission codes per insurer to expose the
// trade-off between client cost and broker commission.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/logger"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the ranking and fan-out knobs.
type Policy struct {
	TolerancePct       decimal.Decimal
	CostWeight         decimal.Decimal
	MaxConcurrency     int
	MaxCodesPerInsurer int
}

// DefaultPolicy is used when configuration leaves a knob unset.
func DefaultPolicy() Policy {
	return Policy{
		TolerancePct:       decimal.NewFromInt(5),
		CostWeight:         decimal.RequireFromString("0.5"),
		MaxConcurrency:     4,
		MaxCodesPerInsurer: 6,
	}
}

// PolicyFromConfig parses the optimizer configuration.
func PolicyFromConfig(cfg config.OptimizerConfig) (Policy, error) {
	p := DefaultPolicy()
	if raw := cfg.GetOptimizerTolerancePct(); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			return Policy{}, fmt.Errorf("invalid optimizer tolerance %q", raw)
		}
		p.TolerancePct = v
	}
	if raw := cfg.GetOptimizerCostWeight(); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			return Policy{}, fmt.Errorf("invalid optimizer cost weight %q", raw)
		}
		p.CostWeight = v
	}
	if n := cfg.GetOptimizerMaxConcurrency(); n > 0 {
		p.MaxConcurrency = n
	}
	if n := cfg.GetOptimizerMaxCodesPerInsurer(); n > 0 {
		p.MaxCodesPerInsurer = n
	}
	return p, nil
}

// Candidate is one (insurer, commission code, tariff) point.
type Candidate struct {
	InsurerID       string          `json:"insurerId"`
	CommissionCode  string          `json:"commissionCode"`
	CommissionRate  decimal.Decimal `json:"commissionRate"`
	Tariff          wire.Tariff     `json:"tariff"`
	ClientCostMinor int64           `json:"clientCostMinor"`
	CommissionMinor int64           `json:"commissionMinor"`
}

// Result holds the sorted frontier and two pointers into it.
type Result struct {
	BestEconomy    *Candidate  `json:"bestEconomy,omitempty"`
	BestCompromise *Candidate  `json:"bestCompromise,omitempty"`
	Frontier       []Candidate `json:"frontier"`
	Dropped        int         `json:"dropped"`
}

// Request describes one optimization run.
type Request struct {
	Profile               wire.Profile
	Credentials           client.Credentials
	DefaultCommissionCode string
	BrokerFeeMinor        *int64
	// Candidates maps insurer ids to the codes to try. A nil map tries every
	// catalog code of every insurer found in the baseline.
	Candidates map[string][]string
}

// Optimizer runs the commission sweep.
type Optimizer struct {
	quoter  client.Quoter
	catalog *catalog.Catalog
	policy  Policy
	log     *logger.Logger
}

// New creates an optimizer.
func New(quoter client.Quoter, cat *catalog.Catalog, policy Policy, log *logger.Logger) *Optimizer {
	return &Optimizer{quoter: quoter, catalog: cat, policy: policy, log: log}
}

// Optimize prices the baseline on staging, then re-prices every insurer of the
// baseline with each candidate code. Candidate failures are dropped; only a
// baseline failure is returned.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	baseline, err := o.quoter.Quote(ctx, req.Profile, req.Credentials, client.Options{
		CommissionCode: req.DefaultCommissionCode,
		BrokerFeeMinor: req.BrokerFeeMinor,
	})
	if err != nil {
		return nil, fmt.Errorf("baseline pricing: %w", err)
	}

	var frontier []Candidate
	baselineCodes := make(map[string]string)
	for _, tariff := range baseline.Tariffs {
		insurerID, ok := o.catalog.ResolveInsurer(tariff.Insurer)
		if !ok || !tariff.Priced() {
			continue
		}
		code, ok := o.baselineCode(insurerID, tariff, req.DefaultCommissionCode)
		if !ok {
			continue
		}
		baselineCodes[insurerID] = code.Code
		frontier = append(frontier, newCandidate(insurerID, code, tariff))
	}

	plan := o.plan(baselineCodes, req.Candidates)

	var (
		mu      sync.Mutex
		dropped int
	)
	if len(plan) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(len(plan), max(o.policy.MaxConcurrency, 1)))

		for _, job := range plan {
			g.Go(func() error {
				for _, code := range job.codes {
					found, err := o.sweep(gctx, req, job.insurerID, code)
					mu.Lock()
					if err != nil {
						dropped++
					} else {
						frontier = append(frontier, found...)
					}
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sortFrontier(frontier)
	result := &Result{Frontier: frontier, Dropped: dropped}
	if result.Frontier == nil {
		result.Frontier = []Candidate{}
	}
	result.BestEconomy, result.BestCompromise = pickBest(result.Frontier, o.policy)

	o.log.WithContext(ctx).Info("commission_sweep_done",
		"insurers", len(plan),
		"candidates", len(result.Frontier),
		"dropped", dropped,
	)
	return result, nil
}

type sweepJob struct {
	insurerID string
	codes     []catalog.Code
}

// plan lists the extra calls per insurer, in a stable order.
func (o *Optimizer) plan(baselineCodes map[string]string, requested map[string][]string) []sweepJob {
	insurers := make([]string, 0, len(baselineCodes))
	for id := range baselineCodes {
		insurers = append(insurers, id)
	}
	sort.Strings(insurers)

	normalized := make(map[string][]string, len(requested))
	for key, codes := range requested {
		if id, ok := o.catalog.ResolveInsurer(key); ok {
			normalized[id] = append(normalized[id], codes...)
		}
	}

	var jobs []sweepJob
	for _, insurerID := range insurers {
		var codes []catalog.Code
		seen := map[string]bool{baselineCodes[insurerID]: true}

		if requested == nil {
			for _, code := range o.catalog.CodesForInsurer(insurerID) {
				if !seen[code.Code] {
					seen[code.Code] = true
					codes = append(codes, code)
				}
			}
		} else {
			for _, raw := range normalized[insurerID] {
				if seen[raw] || !o.catalog.IsLegal(insurerID, raw) {
					continue
				}
				if code, ok := o.catalog.Lookup(raw); ok {
					seen[raw] = true
					codes = append(codes, code)
				}
			}
		}

		if limit := o.policy.MaxCodesPerInsurer; limit > 0 && len(codes) > limit {
			codes = codes[:limit]
		}
		if len(codes) > 0 {
			jobs = append(jobs, sweepJob{insurerID: insurerID, codes: codes})
		}
	}
	return jobs
}

func (o *Optimizer) sweep(ctx context.Context, req Request, insurerID string, code catalog.Code) ([]Candidate, error) {
	res, err := o.quoter.Quote(ctx, req.Profile, req.Credentials, client.Options{
		CommissionCode: code.Code,
		BrokerFeeMinor: req.BrokerFeeMinor,
	})
	if err != nil {
		o.log.WithContext(ctx).Warn("commission candidate dropped",
			"insurer", insurerID, "code", code.Code, "error", err)
		return nil, err
	}

	var out []Candidate
	for _, tariff := range res.Tariffs {
		owner, ok := o.catalog.ResolveInsurer(tariff.Insurer)
		if !ok || owner != insurerID || !tariff.Priced() {
			continue
		}
		out = append(out, newCandidate(insurerID, code, tariff))
	}
	return out, nil
}

// baselineCode names the code a baseline tariff was priced with: the code the
// provider echoed, else the code the baseline was requested with when it is
// legal for the insurer, else the insurer's catalog default.
func (o *Optimizer) baselineCode(insurerID string, tariff wire.Tariff, requested string) (catalog.Code, bool) {
	if tariff.CommissionCode != "" && o.catalog.IsLegal(insurerID, tariff.CommissionCode) {
		return o.catalog.Lookup(tariff.CommissionCode)
	}
	if requested != "" && o.catalog.IsLegal(insurerID, requested) {
		return o.catalog.Lookup(requested)
	}
	return o.catalog.DefaultCode(insurerID)
}

func newCandidate(insurerID string, code catalog.Code, tariff wire.Tariff) Candidate {
	return Candidate{
		InsurerID:       insurerID,
		CommissionCode:  code.Code,
		CommissionRate:  code.Rate,
		Tariff:          tariff,
		ClientCostMinor: tariff.TotalCostMinor,
		CommissionMinor: CommissionAmount(tariff.TotalCostMinor, code.Rate),
	}
}

// CommissionAmount is cost × rate / 100, rounded half-up to the minor unit.
func CommissionAmount(costMinor int64, ratePct decimal.Decimal) int64 {
	return decimal.NewFromInt(costMinor).Mul(ratePct).Div(hundred).Round(0).IntPart()
}

func sortFrontier(frontier []Candidate) {
	sort.SliceStable(frontier, func(i, j int) bool {
		a, b := frontier[i], frontier[j]
		if a.ClientCostMinor != b.ClientCostMinor {
			return a.ClientCostMinor < b.ClientCostMinor
		}
		if c := a.CommissionRate.Cmp(b.CommissionRate); c != 0 {
			return c > 0
		}
		if a.InsurerID != b.InsurerID {
			return a.InsurerID < b.InsurerID
		}
		if a.Tariff.ID != b.Tariff.ID {
			return a.Tariff.ID < b.Tariff.ID
		}
		return a.CommissionCode < b.CommissionCode
	})
}

// pickBest expects a sorted frontier. The economy pick is its head; the
// compromise maximizes rate − weight × relative cost increase (in percent)
// within the tolerance band above the cheapest cost.
func pickBest(frontier []Candidate, policy Policy) (*Candidate, *Candidate) {
	if len(frontier) == 0 {
		return nil, nil
	}
	economy := &frontier[0]

	cheapest := decimal.NewFromInt(economy.ClientCostMinor)
	ceiling := cheapest.Mul(hundred.Add(policy.TolerancePct)).Div(hundred)

	compromise := economy
	bestScore := score(*economy, cheapest, policy)
	for i := 1; i < len(frontier); i++ {
		cand := &frontier[i]
		if decimal.NewFromInt(cand.ClientCostMinor).GreaterThan(ceiling) {
			break
		}
		if s := score(*cand, cheapest, policy); s.GreaterThan(bestScore) {
			compromise, bestScore = cand, s
		}
	}
	return economy, compromise
}

func score(c Candidate, cheapest decimal.Decimal, policy Policy) decimal.Decimal {
	if cheapest.IsZero() {
		return c.CommissionRate
	}
	increasePct := decimal.NewFromInt(c.ClientCostMinor).Sub(cheapest).Div(cheapest).Mul(hundred)
	return c.CommissionRate.Sub(policy.CostWeight.Mul(increasePct))
}
