package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore_Seeded(t *testing.T) {
	st, err := newMemoryStore("../../db/seed/catalog.json")
	require.NoError(t, err)

	p, err := st.GetProduct(context.Background(), uuid.MustParse("0b0f3f59-90c4-4f5b-8f2e-3c1f0c7c9a01"))
	require.NoError(t, err)
	assert.Equal(t, "Waffle with Berries", p.Name)

	v, ok := st.Variant(uuid.MustParse("4f3e2d1c-0b9a-4876-9543-210fedcba903"))
	require.True(t, ok)
	assert.Equal(t, int64(40), v.Stock)
	assert.Equal(t, int64(800), v.Price)

	c, ok := st.Coupon("lastone")
	require.True(t, ok)
	assert.Equal(t, 1, c.MaxUses)
	assert.True(t, c.IsActive)
}

func TestNewMemoryStore_Empty(t *testing.T) {
	st, err := newMemoryStore("")
	require.NoError(t, err)

	_, ok := st.Coupon("WELCOME10")
	assert.False(t, ok)
}

func TestNewMemoryStore_MissingFile(t *testing.T) {
	_, err := newMemoryStore("testdata/missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load seed catalog")
}
