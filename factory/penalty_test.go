package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/factory"
	"github.com/warp/fees-engine/generic"
)

func TestParsePenaltyRule_Defaults(t *testing.T) {
	f := factory.NewPenaltyFactory()

	rule, err := f.ParsePenaltyRule(`{"institution_id": "inst-1", "name": "Late fee", "rate": 50}`)
	require.NoError(t, err)

	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, generic.PenaltyFlat, rule.Type)
	assert.True(t, rule.Active)
	assert.False(t, rule.MaxAmount.Valid)
	assert.Equal(t, "50", rule.Rate.String())
}

func TestParsePenaltyRule_Presets(t *testing.T) {
	f := factory.NewPenaltyFactory()

	flat, err := f.ParsePenaltyRule(factory.FlatFeeJSON("r1", "inst-1", 5, "25.50"))
	require.NoError(t, err)
	assert.Equal(t, "r1", flat.ID)
	assert.Equal(t, 5, flat.GraceDays)
	assert.Equal(t, "25.5", flat.Rate.String())

	pct, err := f.ParsePenaltyRule(factory.DailyPercentageJSON("r2", "inst-1", 7, "0.5", "2000"))
	require.NoError(t, err)
	assert.Equal(t, generic.PenaltyPerDayPercentage, pct.Type)
	require.True(t, pct.MaxAmount.Valid)
	assert.Equal(t, "2000", pct.MaxAmount.Decimal.String())

	uncapped, err := f.ParsePenaltyRule(factory.DailyPercentageJSON("r3", "inst-1", 0, "1", ""))
	require.NoError(t, err)
	assert.False(t, uncapped.MaxAmount.Valid)
}

func TestParsePenaltyRule_Inactive(t *testing.T) {
	f := factory.NewPenaltyFactory()

	rule, err := f.ParsePenaltyRule(`{"institution_id": "inst-1", "name": "Old fee", "rate": "10", "active": false}`)
	require.NoError(t, err)
	assert.False(t, rule.Active)
}

func TestParsePenaltyRule_Rejects(t *testing.T) {
	f := factory.NewPenaltyFactory()

	tests := []struct {
		name string
		json string
		want error
	}{
		{"no institution", `{"name": "x", "rate": "1"}`, generic.ErrInvalidInput},
		{"no name", `{"institution_id": "i", "rate": "1"}`, generic.ErrInvalidInput},
		{"unknown type", `{"institution_id": "i", "name": "x", "type": "compound", "rate": "1"}`, generic.ErrInvalidInput},
		{"negative grace", `{"institution_id": "i", "name": "x", "grace_days": -1, "rate": "1"}`, generic.ErrInvalidInput},
		{"zero rate", `{"institution_id": "i", "name": "x", "rate": "0"}`, generic.ErrInvalidAmount},
		{"zero cap", `{"institution_id": "i", "name": "x", "rate": "1", "max_amount": "0"}`, generic.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePenaltyRule(tt.json)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.ParsePenaltyRule(`{not json`)
	assert.Error(t, err)
}

func TestToJSON_ReparsesToSameRule(t *testing.T) {
	f := factory.NewPenaltyFactory()
	rule, err := f.ParsePenaltyRule(factory.DailyPercentageJSON("r2", "inst-1", 7, "0.5", "2000"))
	require.NoError(t, err)

	again, err := f.FromJSON(f.ToJSON(rule))
	require.NoError(t, err)
	assert.Equal(t, rule.ID, again.ID)
	assert.Equal(t, rule.Type, again.Type)
	assert.True(t, rule.Rate.Equal(again.Rate))
	assert.True(t, rule.MaxAmount.Decimal.Equal(again.MaxAmount.Decimal))
}
