// Package seed reads the catalog fixture used to populate a store: products,
// their variants and coupons.
package seed

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
)

// Catalog is a decoded fixture.
type Catalog struct {
	Products []catalog.Product
	Variants []inventory.Variant
	Coupons  []coupon.Coupon
}

type catalogJSON struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Variants []struct {
		ID    uuid.UUID `json:"id"`
		Price int64     `json:"price"`
		Stock int64     `json:"stock"`
	} `json:"variants"`
}

type couponJSON struct {
	Code              string          `json:"code"`
	DiscountType      string          `json:"discount_type"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	MinPurchaseAmount int64           `json:"min_purchase_amount"`
	MaxUses           int             `json:"max_uses"`
	ExpiresAt         time.Time       `json:"expires_at"`
	Description       string          `json:"description"`
}

// Load reads and decodes the fixture at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode parses a fixture from r. Coupons are active and their codes
// normalized.
func Decode(r io.Reader) (*Catalog, error) {
	var raw catalogJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	c := &Catalog{
		Products: make([]catalog.Product, 0, len(raw.Products)),
		Coupons:  make([]coupon.Coupon, 0, len(raw.Coupons)),
	}
	for _, p := range raw.Products {
		if p.ID == uuid.Nil {
			return nil, errors.Errorf("product %q: missing id", p.Name)
		}
		if p.Price < 0 {
			return nil, errors.Errorf("product %s: negative price", p.ID)
		}
		c.Products = append(c.Products, catalog.Product{ID: p.ID, Name: p.Name, Price: p.Price})
		for _, v := range p.Variants {
			if v.Price < 0 || v.Stock < 0 {
				return nil, errors.Errorf("variant %s: negative price or stock", v.ID)
			}
			c.Variants = append(c.Variants, inventory.Variant{
				ID:        v.ID,
				ProductID: p.ID,
				Stock:     v.Stock,
				Price:     v.Price,
			})
		}
	}
	for _, cj := range raw.Coupons {
		cp := coupon.Coupon{
			Code:              coupon.NormalizeCode(cj.Code),
			DiscountType:      coupon.DiscountType(cj.DiscountType),
			DiscountValue:     cj.DiscountValue,
			MinPurchaseAmount: cj.MinPurchaseAmount,
			MaxUses:           cj.MaxUses,
			ExpiresAt:         cj.ExpiresAt,
			IsActive:          true,
			Description:       cj.Description,
		}
		if cp.Code == "" {
			return nil, errors.New("coupon with empty code")
		}
		if !cp.DiscountType.Valid() {
			return nil, errors.Errorf("coupon %s: unknown discount type %q", cj.Code, cj.DiscountType)
		}
		c.Coupons = append(c.Coupons, cp)
	}
	return c, nil
}
