package binance

import (
	"strings"
	"time"
)

const (
	mainnetRESTBaseURL = "https://api.binance.com"
	testnetRESTBaseURL = "https://testnet.binance.vision"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	Testnet     bool

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		if out.Testnet {
			out.RESTBaseURL = testnetRESTBaseURL
		} else {
			out.RESTBaseURL = mainnetRESTBaseURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	return out
}
