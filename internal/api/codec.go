package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func decodeRequest(data []byte) (order.Request, error) {
	var req order.Request
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "owner_id":
			req.OwnerID, err = optString(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "payment_method":
			var s string
			s, err = optString(d)
			req.PaymentMethod = invoice.PaymentMethod(s)
		case "payment_status":
			req.PaymentStatus, err = optString(d)
		case "shipping_address":
			req.ShippingAddress, err = decodeAddress(d)
		case "delivery_fee":
			req.DeliveryFee, err = d.Int64()
		case "coupon_code":
			req.CouponCode, err = optString(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
	return req, err
}

func decodeLineItem(d *jx.Decoder) (order.LineItem, error) {
	var item order.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			item.ProductID, err = optString(d)
		case "variant_id":
			item.VariantID, err = optString(d)
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "item field %q", key)
	})
	return item, err
}

func decodeAddress(d *jx.Decoder) (invoice.Address, error) {
	var a invoice.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "street":
			a.Street, err = optString(d)
		case "city":
			a.City, err = optString(d)
		case "state":
			a.State, err = optString(d)
		case "country":
			a.Country, err = optString(d)
		case "zip":
			a.Zip, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

// optString reads a string, treating null as "".
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeInvoice(inv *invoice.Invoice) []byte {
	e := &jx.Encoder{}
	e.ObjStart()

	e.FieldStart("id")
	e.Str(inv.ID.String())
	e.FieldStart("owner_id")
	e.Str(inv.OwnerID.String())

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range inv.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID.String())
		if it.VariantID != nil {
			e.FieldStart("variant_id")
			e.Str(it.VariantID.String())
		}
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price_at_purchase")
		e.Int64(it.PriceAtPurchase)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	e.Int64(inv.Subtotal)
	e.FieldStart("discount_amount")
	e.Int64(inv.DiscountAmount)
	e.FieldStart("delivery_fee")
	e.Int64(inv.DeliveryFee)
	e.FieldStart("total_amount")
	e.Int64(inv.TotalAmount)
	e.FieldStart("coupon_code")
	if inv.CouponCode != nil {
		e.Str(*inv.CouponCode)
	} else {
		e.Null()
	}
	e.FieldStart("payment_method")
	e.Str(string(inv.PaymentMethod))
	e.FieldStart("payment_status")
	e.Str(string(inv.PaymentStatus))
	e.FieldStart("order_status")
	e.Str(string(inv.OrderStatus))

	a := inv.ShippingAddress
	e.FieldStart("shipping_address")
	e.ObjStart()
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("zip")
	e.Str(a.Zip)
	e.ObjEnd()

	e.FieldStart("created_at")
	e.Str(inv.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updated_at")
	e.Str(inv.UpdatedAt.UTC().Format(time.RFC3339Nano))

	e.ObjEnd()
	return e.Bytes()
}

func writeError(w http.ResponseWriter, code int, message string, fields map[string]string) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(message)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		e.FieldStart("fields")
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			e.Str(fields[k])
		}
		e.ObjEnd()
	}
	e.ObjEnd()
	writeJSON(w, code, e.Bytes())
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
