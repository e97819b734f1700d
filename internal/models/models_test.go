package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTable(t *testing.T) {
	for _, k := range StateKeys() {
		if k == StateHome {
			_, ok := k.Prior()
			assert.False(t, ok, "home has no predecessor")
			continue
		}
		prior, ok := k.Prior()
		assert.True(t, ok, "%s must declare a predecessor", k)
		assert.True(t, prior.Valid(), "%s predecessor %s must be declared", k, prior)
	}

	assert.False(t, StateKey("nope").Valid())
	assert.Equal(t, FlowHome, StateKey("nope").Flow())
	assert.Equal(t, FlowOnboarding, StateOnboardPublish.Flow())

	prior, _ := StateOnboardPayment.Prior()
	assert.Equal(t, StateOnboardLocation, prior)
}

func TestCanTransition(t *testing.T) {
	statuses := []OrderStatus{OrderPending, OrderPaid, OrderServed, OrderCancelled}
	allowed := map[[2]OrderStatus]bool{
		{OrderPending, OrderPaid}:      true,
		{OrderPending, OrderCancelled}: true,
		{OrderPaid, OrderServed}:       true,
		{OrderPaid, OrderCancelled}:    true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestServiceCharge(t *testing.T) {
	tests := []struct {
		subtotal int64
		pct      float64
		want     int64
	}{
		{10000, 10, 1000},
		{0, 10, 0},
		{1005, 10, 101}, // 100.5 rounds away from zero
		{999, 0, 0},
		{3333, 12.5, 417},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ServiceCharge(tt.subtotal, tt.pct))
	}
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "RWF 2,000", FormatMoney(2000, "RWF"))
	assert.Equal(t, "RWF 2,000", FormatMoney(2000, ""))
	assert.Equal(t, "USD 12.50", FormatMoney(1250, "USD"))
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		raw  string
		code string
		want int64
		ok   bool
	}{
		{"2500", "RWF", 2500, true},
		{"RWF 2,500", "RWF", 2500, true},
		{"2 500 rwf", "", 2500, true},
		{"12.50", "USD", 1250, true},
		{"abc", "RWF", 0, false},
		{"", "RWF", 0, false},
		{"-300", "RWF", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseMoney(tt.raw, tt.code)
		if !tt.ok {
			assert.Error(t, err, tt.raw)
			continue
		}
		assert.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
