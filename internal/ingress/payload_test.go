package ingress

import "testing"

func TestDecodeOrderEventAcceptsCanonicalShape(t *testing.T) {
	body := []byte(`{"orderId":"order-1","amount":"100.50","customerEmail":"a@b.com"}`)
	event, err := DecodeOrderEvent(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.OrderID != "order-1" || event.Amount != "100.50" || event.CustomerEmail != "a@b.com" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeOrderEventAcceptsStorefrontShape(t *testing.T) {
	body := []byte(`{
		"Name": "Jane Doe",
		"Email": "jane@example.com",
		"Phone": "+15551234567",
		"payment": {"orderid": "order-42", "amount": "250.00", "promocode": "GUPIL", "subtotal": "300.00", "discount": "50.00"},
		"appliedBonuses": "25.00",
		"utm_ref": "2f9a6e7e-4c5b-4b0a-9c2d-000000000001"
	}`)
	event, err := DecodeOrderEvent(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.OrderID != "order-42" {
		t.Errorf("expected order id from nested payment object, got %q", event.OrderID)
	}
	if event.Amount != "250.00" {
		t.Errorf("expected amount from nested payment object, got %q", event.Amount)
	}
	if event.CustomerEmail != "jane@example.com" {
		t.Errorf("expected email from top-level Email field, got %q", event.CustomerEmail)
	}
	if event.PromoCode != "GUPIL" {
		t.Errorf("expected promocode from nested payment object, got %q", event.PromoCode)
	}
	if event.AppliedBonuses != "25.00" {
		t.Errorf("expected appliedBonuses carried through, got %q", event.AppliedBonuses)
	}
	if event.UtmRef != "2f9a6e7e-4c5b-4b0a-9c2d-000000000001" {
		t.Errorf("expected utm_ref carried through, got %q", event.UtmRef)
	}
}

func TestDecodeOrderEventRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeOrderEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestIsSpendPromoCode(t *testing.T) {
	cases := map[string]bool{
		"GUPIL":       true,
		"gupil":       true,
		"  Gupil  ":   true,
		"":            false,
		"OTHERCODE":   false,
		"GUPIL-EXTRA": false,
	}
	for code, want := range cases {
		if got := IsSpendPromoCode(code); got != want {
			t.Errorf("IsSpendPromoCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestValidateOrderEventRequiresOrderIDAndAmount(t *testing.T) {
	event := &OrderEvent{}
	details := validateOrderEvent(event)
	if len(details) == 0 {
		t.Fatal("expected validation errors for empty event")
	}
}

func TestValidateOrderEventAcceptsMinimalValidEvent(t *testing.T) {
	tg := int64(12345)
	event := &OrderEvent{OrderID: "order-1", Amount: "100.50", TelegramID: &tg}
	if details := validateOrderEvent(event); details != nil {
		t.Fatalf("expected no validation errors, got %+v", details)
	}
}

func TestValidateOrderEventRejectsMalformedEmail(t *testing.T) {
	event := &OrderEvent{OrderID: "order-1", Amount: "10", CustomerEmail: "not-an-email"}
	details := validateOrderEvent(event)
	if len(details) == 0 {
		t.Fatal("expected a validation error for a malformed email")
	}
}

func TestRequireEitherIdentity(t *testing.T) {
	if requireEitherIdentity(&OrderEvent{}) {
		t.Error("expected false when no identity field is set")
	}
	tg := int64(1)
	if !requireEitherIdentity(&OrderEvent{TelegramID: &tg}) {
		t.Error("expected true when telegramId is set")
	}
	if !requireEitherIdentity(&OrderEvent{CustomerEmail: "a@b.com"}) {
		t.Error("expected true when customerEmail is set")
	}
}
