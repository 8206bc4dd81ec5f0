package checkout

import (
	"testing"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		name string
		edit func(a *orders.ShippingAddress)
		msg  string
	}{
		{"missing city", func(a *orders.ShippingAddress) { a.City = " " }, "city is required"},
		{"missing address", func(a *orders.ShippingAddress) { a.Line1 = "" }, "address is required"},
		{"short pincode", func(a *orders.ShippingAddress) { a.Pincode = "56001" }, "pincode must be 6 digits"},
		{"pincode starting with zero", func(a *orders.ShippingAddress) { a.Pincode = "060001" }, "pincode must be 6 digits"},
		{"landline", func(a *orders.ShippingAddress) { a.Phone = "0801234567" }, "phone must be a 10 digit mobile number"},
		{"bad email", func(a *orders.ShippingAddress) { a.Email = "asha@" }, "email is invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := testAddress
			tc.edit(&a)
			_, err := normalizeAddress(a)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Equal(t, tc.msg, Message(err))
		})
	}
}

func TestNormalizeAddress_Trims(t *testing.T) {
	a := testAddress
	a.FullName = "  Asha Rao "
	a.Phone = "+91 9876543210"
	a.Email = ""

	_, err := normalizeAddress(a)
	assert.Equal(t, "phone must be a 10 digit mobile number", Message(err), "inner spaces are not stripped")

	a.Phone = " +919876543210"
	got, err := normalizeAddress(a)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", got.FullName)
	assert.Equal(t, "9876543210", got.Phone)
}
