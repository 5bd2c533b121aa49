/*
Package factory provides JSON to Go penalty rule conversion.

PURPOSE:
  Converts JSON penalty rule definitions into generic.PenaltyRule values.
  Bursars configure late-payment rules per institution through the admin
  API or a seed file; the factory validates the document and fills in
  defaults.

JSON SCHEMA:
  {
    "id": "late-fee-term1",
    "institution_id": "inst-1",
    "name": "Term 1 late fee",
    "type": "per_day_percentage",
    "grace_days": 7,
    "rate": "0.5",
    "max_amount": "2000",
    "active": true
  }

  rate and max_amount accept either a JSON string or a number. Strings
  are preferred: they survive the round trip without float rounding.

DEFAULTS:
  - id: a fresh UUID
  - type: flat
  - active: true

USAGE:
  f := factory.NewPenaltyFactory()
  rule, err := f.ParsePenaltyRule(jsonString)

  // From a preset
  rule, err := f.ParsePenaltyRule(factory.DailyPercentageJSON("r1", "inst-1", 7, "0.5", "2000"))

SEE ALSO:
  - generic/types.go: PenaltyRule
  - billing/penalty.go: PenaltyAmount, how a rule is charged
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PenaltyRuleJSON is the JSON representation of a penalty rule.
type PenaltyRuleJSON struct {
	ID            string              `json:"id,omitempty"`
	InstitutionID string              `json:"institution_id"`
	Name          string              `json:"name"`
	Type          string              `json:"type,omitempty"`
	GraceDays     int                 `json:"grace_days"`
	Rate          decimal.Decimal     `json:"rate"`
	MaxAmount     decimal.NullDecimal `json:"max_amount"`
	Active        *bool               `json:"active,omitempty"`
}

// =============================================================================
// PENALTY FACTORY
// =============================================================================

// PenaltyFactory converts JSON rules to Go structs.
type PenaltyFactory struct {
	now func() time.Time
}

func NewPenaltyFactory() *PenaltyFactory {
	return &PenaltyFactory{now: func() time.Time { return time.Now().UTC() }}
}

// ParsePenaltyRule parses a JSON string into a PenaltyRule.
func (f *PenaltyFactory) ParsePenaltyRule(jsonStr string) (*generic.PenaltyRule, error) {
	var rj PenaltyRuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse penalty rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON validates rj and converts it to a PenaltyRule.
func (f *PenaltyFactory) FromJSON(rj PenaltyRuleJSON) (*generic.PenaltyRule, error) {
	if rj.InstitutionID == "" {
		return nil, fmt.Errorf("%w: institution_id is required", generic.ErrInvalidInput)
	}
	if rj.Name == "" {
		return nil, fmt.Errorf("%w: name is required", generic.ErrInvalidInput)
	}
	typ := parsePenaltyType(rj.Type)
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: unknown penalty type %q", generic.ErrInvalidInput, rj.Type)
	}
	if rj.GraceDays < 0 {
		return nil, fmt.Errorf("%w: grace_days must not be negative", generic.ErrInvalidInput)
	}
	if !rj.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate", generic.ErrInvalidAmount)
	}
	if rj.MaxAmount.Valid && !rj.MaxAmount.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: max_amount", generic.ErrInvalidAmount)
	}

	rule := &generic.PenaltyRule{
		ID:            rj.ID,
		InstitutionID: rj.InstitutionID,
		Name:          rj.Name,
		Type:          typ,
		GraceDays:     rj.GraceDays,
		Rate:          rj.Rate,
		MaxAmount:     rj.MaxAmount,
		Active:        true,
		CreatedAt:     f.now(),
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}
	return rule, nil
}

// ToJSON converts a PenaltyRule to PenaltyRuleJSON.
func (f *PenaltyFactory) ToJSON(rule *generic.PenaltyRule) PenaltyRuleJSON {
	active := rule.Active
	return PenaltyRuleJSON{
		ID:            rule.ID,
		InstitutionID: rule.InstitutionID,
		Name:          rule.Name,
		Type:          string(rule.Type),
		GraceDays:     rule.GraceDays,
		Rate:          rule.Rate,
		MaxAmount:     rule.MaxAmount,
		Active:        &active,
	}
}

func parsePenaltyType(s string) generic.PenaltyType {
	switch s {
	case "", "flat":
		return generic.PenaltyFlat
	case "per_day_percentage", "percentage":
		return generic.PenaltyPerDayPercentage
	default:
		return generic.PenaltyType(s)
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// FlatFeeJSON is a fixed charge per overdue day after the grace period.
func FlatFeeJSON(id, institutionID string, graceDays int, amount string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"institution_id": %q,
		"name": "Flat late fee",
		"type": "flat",
		"grace_days": %d,
		"rate": %q
	}`, id, institutionID, graceDays, amount)
}

// DailyPercentageJSON charges percent of the outstanding balance per
// overdue day, each row capped at maxAmount (empty for no cap).
func DailyPercentageJSON(id, institutionID string, graceDays int, percent, maxAmount string) string {
	capField := "null"
	if maxAmount != "" {
		capField = fmt.Sprintf("%q", maxAmount)
	}
	return fmt.Sprintf(`{
		"id": %q,
		"institution_id": %q,
		"name": "Daily percentage late fee",
		"type": "per_day_percentage",
		"grace_days": %d,
		"rate": %q,
		"max_amount": %s
	}`, id, institutionID, graceDays, percent, capField)
}
