package symbol

import "strings"

// Symbol is a base/quote pair. Internally symbols may carry a slash
// ("BTC/USDC"); Binance wants them collapsed ("BTCUSDC").
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "FDUSD", "TUSD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// ToExchange collapses any internal form to the Binance wire form.
func ToExchange(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(up, "/", "")
}

// Normalize returns the canonical internal form, or "" if unparseable.
func Normalize(s string) string {
	return Parse(s).Internal()
}
