package seed

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

func TestLoad_Fixture(t *testing.T) {
	c, err := Load("../../db/seed/catalog.json")
	require.NoError(t, err)

	require.Len(t, c.Products, 3)
	assert.Equal(t, "Waffle with Berries", c.Products[0].Name)
	assert.Equal(t, int64(650), c.Products[0].Price)

	require.Len(t, c.Variants, 3)
	assert.Equal(t, uuid.MustParse("2c9a9b1e-7a5d-4bde-8a6f-5e0e9c8f7d02"), c.Variants[0].ID)
	assert.Equal(t, c.Products[0].ID, c.Variants[0].ProductID)
	assert.Equal(t, int64(120), c.Variants[0].Stock)

	require.Len(t, c.Coupons, 3)
	for _, cp := range c.Coupons {
		assert.True(t, cp.IsActive, cp.Code)
		assert.True(t, cp.DiscountType.Valid(), cp.Code)
	}
	assert.Equal(t, coupon.DiscountFixedAmount, c.Coupons[1].DiscountType)
	assert.Equal(t, int64(2000), c.Coupons[1].MinPurchaseAmount)
	assert.Equal(t, 1, c.Coupons[2].MaxUses)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.json")
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Run("normalizes coupon codes", func(t *testing.T) {
		c, err := Decode(strings.NewReader(`{"coupons":[
			{"code":" save5 ","discount_type":"PERCENTAGE","discount_value":"5","max_uses":1}
		]}`))
		require.NoError(t, err)
		require.Len(t, c.Coupons, 1)
		assert.Equal(t, "SAVE5", c.Coupons[0].Code)
	})

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "malformed json", input: `{"products":`, wantErr: "parse catalog JSON"},
		{
			name:    "unknown discount type",
			input:   `{"coupons":[{"code":"X","discount_type":"BOGO","discount_value":"1"}]}`,
			wantErr: "unknown discount type",
		},
		{
			name:    "empty coupon code",
			input:   `{"coupons":[{"code":"  ","discount_type":"PERCENTAGE","discount_value":"1"}]}`,
			wantErr: "empty code",
		},
		{
			name:    "product without id",
			input:   `{"products":[{"name":"Ghost","price":1}]}`,
			wantErr: "missing id",
		},
		{
			name:    "negative stock",
			input:   `{"products":[{"id":"` + uuid.NewString() + `","name":"P","price":1,"variants":[{"id":"` + uuid.NewString() + `","price":1,"stock":-1}]}]}`,
			wantErr: "negative price or stock",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
