package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/location"
)

// AnomalyLotStraggler tags pallets left behind while the rest of their lot
// already reached final storage.
const AnomalyLotStraggler = "lot_straggler"

type lotConditions struct {
	CompletionThreshold float64  `json:"completionThreshold"`
	LocationTypes       []string `json:"locationTypes"`
	FinalLocationTypes  []string `json:"finalLocationTypes"`
}

// uncoordinatedLots finds lot stragglers: a receipt whose pallets are mostly
// put away already, with a few still sitting in flow-through areas. The
// completion fraction is computed over the whole lot, stragglers included.
type uncoordinatedLots struct{}

// NewUncoordinatedLots returns the UNCOORDINATED_LOTS evaluator.
func NewUncoordinatedLots() Evaluator { return uncoordinatedLots{} }

func (uncoordinatedLots) Type() RuleType { return TypeUncoordinatedLots }

func (uncoordinatedLots) Validate(raw json.RawMessage) error {
	var cond lotConditions
	if err := decodeConditions(raw, &cond); err != nil {
		return err
	}
	var errs error
	if cond.CompletionThreshold < 0.5 || cond.CompletionThreshold > 1.0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: completionThreshold %v outside 0.5..1.0", cond.CompletionThreshold))
	}
	if _, err := parseLocationTypes("locationTypes", cond.LocationTypes); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := parseLocationTypes("finalLocationTypes", cond.FinalLocationTypes); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (e uncoordinatedLots) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond lotConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	stragglers, err := parseLocationTypes("locationTypes", cond.LocationTypes)
	if err != nil {
		return nil, err
	}
	final, err := parseLocationTypes("finalLocationTypes", cond.FinalLocationTypes)
	if err != nil {
		return nil, err
	}
	if len(final) == 0 {
		final = map[location.Type]bool{location.TypeStorage: true}
	}

	type palletFacts struct {
		pallet  inventory.Pallet
		locType location.Type
	}
	facts := make([]palletFacts, 0, snapshot.Len())
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return nil, err
		}
		if p.ReceiptNumber == "" || p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		facts = append(facts, palletFacts{pallet: p, locType: eval.Classify(eval.Canonical(p.Location))})
	}

	lots := lo.GroupBy(facts, func(f palletFacts) string { return f.pallet.ReceiptNumber })
	completed := make(map[string]float64, len(lots))
	for receipt, members := range lots {
		if len(members) < 2 {
			continue
		}
		placed := lo.CountBy(members, func(f palletFacts) bool { return final[f.locType] })
		completed[receipt] = float64(placed) / float64(len(members))
	}

	var anomalies []Anomaly
	for _, f := range facts {
		fraction, qualifies := completed[f.pallet.ReceiptNumber]
		if !qualifies || fraction < cond.CompletionThreshold {
			continue
		}
		if final[f.locType] {
			continue
		}
		if len(stragglers) > 0 && !stragglers[f.locType] {
			continue
		}
		if !eval.Keep(f.pallet) {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     f.pallet.ID,
			LocationCode: f.pallet.Location,
			AnomalyType:  AnomalyLotStraggler,
			Description: eval.Note(fmt.Sprintf("pallet %s of lot %s is still in %s while %.0f%% of the lot is already put away",
				f.pallet.ID, f.pallet.ReceiptNumber, f.pallet.Location, fraction*100), f.pallet),
			Details: map[string]any{
				"receiptNumber":       f.pallet.ReceiptNumber,
				"lotSize":             len(lots[f.pallet.ReceiptNumber]),
				"completionFraction":  fraction,
				"completionThreshold": cond.CompletionThreshold,
				"locationType":        string(f.locType),
			},
		})
	}
	return anomalies, nil
}
