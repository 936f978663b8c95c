package referral

import (
	"testing"
	"testing/quick"

	"github.com/google/uuid"
)

func TestGenerateLinkCarriesUtmRef(t *testing.T) {
	referrerID := uuid.New()
	link := GenerateLink("https://shop.example.com/", referrerID)
	want := "https://shop.example.com/?utm_ref=" + referrerID.String()
	if link != want {
		t.Errorf("want %q, got %q", want, link)
	}
}

func TestGenerateLinkTrimsTrailingSlash(t *testing.T) {
	referrerID := uuid.New()
	withSlash := GenerateLink("https://shop.example.com/", referrerID)
	withoutSlash := GenerateLink("https://shop.example.com", referrerID)
	if withSlash != withoutSlash {
		t.Errorf("trailing slash on appURL should not change the link: %q vs %q", withSlash, withoutSlash)
	}
}

// TestGenerateLinkRoundTripsAnyUUID checks the property that whatever
// referrer id goes in comes back out parseable from the utm_ref value, for
// any well-formed app URL.
func TestGenerateLinkRoundTripsAnyUUID(t *testing.T) {
	f := func(idBytes [16]byte) bool {
		id, err := uuid.FromBytes(idBytes[:])
		if err != nil {
			return true
		}
		link := GenerateLink("https://shop.example.com", id)
		parsedBack, err := uuid.Parse(link[len("https://shop.example.com/?utm_ref="):])
		if err != nil {
			return false
		}
		return parsedBack == id
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
