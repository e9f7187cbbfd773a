package gateway

import "strings"

// PaymentKind selects between the mobile-money and crypto families.
type PaymentKind string

const (
	KindMobileMoney PaymentKind = "mobile_money"
	KindCrypto      PaymentKind = "crypto"
)

// mobile-money countries served by the aggregator, ISO 3166-1 alpha-2.
var mobileMoneyCountries = map[string]bool{
	"CM": true, "CI": true, "SN": true, "TG": true, "BJ": true,
	"BF": true, "ML": true, "NE": true, "GN": true, "CD": true,
}

// Registry holds the configured adapters and picks one per request. Adapters
// are constructed once at boot and shared by reference; the registry itself
// is immutable after New.
type Registry struct {
	byName map[string]Gateway
	mobile Gateway
	crypto Gateway
}

func NewRegistry(mobile, crypto Gateway) *Registry {
	r := &Registry{
		byName: make(map[string]Gateway),
		mobile: mobile,
		crypto: crypto,
	}
	for _, gw := range []Gateway{mobile, crypto} {
		if gw != nil {
			r.byName[gw.Name()] = gw
		}
	}
	return r
}

// ByName returns the adapter for a webhook route or a stored intent.
func (r *Registry) ByName(name string) (Gateway, bool) {
	gw, ok := r.byName[strings.ToLower(name)]
	return gw, ok
}

// ForPayment picks the adapter for a new submission by payment kind, country
// and currency.
func (r *Registry) ForPayment(kind PaymentKind, country, currency string) (Gateway, error) {
	switch kind {
	case KindCrypto:
		if r.crypto == nil {
			return nil, ErrNoGateway
		}
		return r.crypto, nil
	case KindMobileMoney:
		if r.mobile == nil || !mobileMoneyCountries[strings.ToUpper(country)] {
			return nil, ErrNoGateway
		}
		if cur := strings.ToUpper(currency); cur != "XAF" && cur != "XOF" {
			return nil, ErrNoGateway
		}
		return r.mobile, nil
	default:
		return nil, ErrNoGateway
	}
}

// Names lists the registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
