package ingress

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// OrderEvent is the canonical order event the ingress handler dispatches to
// the ledger, whichever of the two wire shapes it arrived as. Amount and
// AppliedBonuses arrive as strings because storefronts are inconsistent
// about quoting currency values — money.Parse strips whatever non-numeric
// noise shows up before decimal parsing.
type OrderEvent struct {
	OrderID        string `json:"orderId" validate:"required"`
	CustomerEmail  string `json:"customerEmail" validate:"omitempty,email"`
	CustomerPhone  string `json:"customerPhone" validate:"omitempty"`
	TelegramID     *int64 `json:"telegramId" validate:"omitempty"`
	Amount         string `json:"amount" validate:"required"`
	UtmRef         string `json:"utmRef" validate:"omitempty"`
	PromoCode      string `json:"-"`
	AppliedBonuses string `json:"-"`
}

// storefrontPayment is the nested "payment" object of the raw
// storefront-compatible order payload (spec §6): order id, amount and the
// optional promocode that triggers a linked bonus spend all live here
// rather than at the payload's top level.
type storefrontPayment struct {
	OrderID   string `json:"orderid"`
	Amount    string `json:"amount"`
	PromoCode string `json:"promocode"`
	Subtotal  string `json:"subtotal"`
	Discount  string `json:"discount"`
}

// storefrontOrderPayload is the raw order payload a storefront posts
// directly, as opposed to the flatter canonical OrderEvent shape other
// integrations use. DecodeOrderEvent tells the two apart by the presence of
// a "payment" object.
type storefrontOrderPayload struct {
	Name           string             `json:"Name"`
	Email          string             `json:"Email"`
	Phone          string             `json:"Phone"`
	Payment        storefrontPayment  `json:"payment"`
	AppliedBonuses string             `json:"appliedBonuses"`
	UtmRef         string             `json:"utm_ref"`
}

func (p storefrontOrderPayload) toOrderEvent() OrderEvent {
	return OrderEvent{
		OrderID:        p.Payment.OrderID,
		CustomerEmail:  p.Email,
		CustomerPhone:  p.Phone,
		Amount:         p.Payment.Amount,
		UtmRef:         p.UtmRef,
		PromoCode:      p.Payment.PromoCode,
		AppliedBonuses: p.AppliedBonuses,
	}
}

// DecodeOrderEvent accepts either of the two shapes §6 documents: the raw
// storefront payload (identified by a top-level "payment" object) or the
// flatter canonical OrderEvent a direct integration posts. Both decode into
// the same OrderEvent the ingress handler and the ledger operate on.
func DecodeOrderEvent(body []byte) (OrderEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return OrderEvent{}, err
	}

	if _, hasPayment := probe["payment"]; hasPayment {
		var raw storefrontOrderPayload
		if err := json.Unmarshal(body, &raw); err != nil {
			return OrderEvent{}, err
		}
		return raw.toOrderEvent(), nil
	}

	var event OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return OrderEvent{}, err
	}
	return event, nil
}

// IsSpendPromoCode reports whether code is the one promocode that triggers
// the linked bonus spend step — "GUPIL", case-insensitive after trimming —
// the only supported trigger per spec §4.5.
func IsSpendPromoCode(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), "GUPIL")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateOrderEvent runs struct validation and renders any failures as the
// details[] array the ingress response envelope carries back to the
// storefront, the same field/message shape other_examples' referral
// handlers use for their own request validation errors.
func validateOrderEvent(e *OrderEvent) []fieldErr {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !castValidationErrors(err, &fieldErrs) {
		return []fieldErr{{Field: "payload", Message: err.Error()}}
	}

	details := make([]fieldErr, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fieldErr{Field: fe.Field(), Message: fe.Tag()})
	}
	return details
}

func castValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// requireEitherIdentity reports whether the event carries at least one way
// to resolve a user — telegram id, email or phone — which the ingress
// handler checks after struct validation since none of those fields is
// individually required.
func requireEitherIdentity(e *OrderEvent) bool {
	return e.TelegramID != nil || e.CustomerEmail != "" || e.CustomerPhone != ""
}
