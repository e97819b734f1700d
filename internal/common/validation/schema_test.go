package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile(map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"item_id"},
		"properties": map[string]interface{}{
			"item_id": map[string]interface{}{"type": "string", "minLength": 1},
			"qty":     map[string]interface{}{"type": "integer", "minimum": 1},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		doc       map[string]interface{}
		valid     bool
		badFields []string
	}{
		{"valid", map[string]interface{}{"item_id": "i-1", "qty": 2}, true, nil},
		{"missing item", map[string]interface{}{"qty": 2}, false, []string{"(root)"}},
		{"qty too small", map[string]interface{}{"item_id": "i-1", "qty": 0}, false, []string{"qty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := schema.Validate(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			for _, f := range tt.badFields {
				assert.True(t, res.HasErrors(f), "expected error on %s, got %v", f, res.GetErrorMessages())
			}
		})
	}
}

func TestValidateFlowID(t *testing.T) {
	assert.NoError(t, ValidateFlowID("flow.cust.bar_menu.v1"))
	assert.NoError(t, ValidateFlowID("flow.vend.orders.v1"))
	assert.Error(t, ValidateFlowID("cust.bar_menu"))
	assert.Error(t, ValidateFlowID("flow.cust.bar-menu.v1"))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"250788123456", "+250788123456", true},
		{"+250 788 123 456", "+250788123456", true},
		{"0788123456", "+250788123456", true},
		{"00250788123456", "+250788123456", true},
		{"12345", "", false},
		{"0788abc456", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePhone(tt.in, "250")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
