package memory

import (
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
)

// PutVariant inserts or replaces a variant outside of any transaction.
func (s *Store) PutVariant(v inventory.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.variants[v.ID]
	s.variants[v.ID] = versioned[inventory.Variant]{value: v, version: cur.version + 1}
}

// PutCoupon inserts or replaces a coupon. The code is normalized.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Code = coupon.NormalizeCode(c.Code)
	cur := s.coupons[c.Code]
	s.coupons[c.Code] = versioned[coupon.Coupon]{value: c, version: cur.version + 1}
}

// Variant returns the committed state of a variant.
func (s *Store) Variant(id uuid.UUID) (inventory.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	return v.value, ok
}

// Coupon returns the committed state of a coupon.
func (s *Store) Coupon(code string) (coupon.Coupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[coupon.NormalizeCode(code)]
	return c.value, ok
}
