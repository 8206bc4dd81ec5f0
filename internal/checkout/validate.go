package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/go-playground/validator/v10"
)

var (
	pincodeRe = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phoneRe   = regexp.MustCompile(`^[6-9][0-9]{9}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// error pakai nama field JSON, sama dengan yang dikirim storefront
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("pincode", func(fl validator.FieldLevel) bool {
		return pincodeRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(fl.Field().String())
	})
	return v
}

// normalizeAddress trims every field and checks it. Email is optional.
func normalizeAddress(a orders.ShippingAddress) (orders.ShippingAddress, error) {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Pincode = strings.TrimSpace(a.Pincode)
	a.Phone = strings.TrimPrefix(strings.TrimSpace(a.Phone), "+91")
	a.Email = strings.TrimSpace(a.Email)

	if err := validate.Struct(a); err != nil {
		return a, addressError(err)
	}
	return a, nil
}

// addressError reports the first failing field in buyer-facing words.
func addressError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return internal(err)
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return validation(fe.Field() + " is required")
	case "pincode":
		return validation("pincode must be 6 digits")
	case "mobile":
		return validation("phone must be a 10 digit mobile number")
	default:
		return validation(fe.Field() + " is invalid")
	}
}
