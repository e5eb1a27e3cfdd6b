package store

import (
	"fmt"
	"strconv"
	"strings"
)

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty integer field")
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseFloatStrict(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty float field")
	}
	return strconv.ParseFloat(s, 64)
}
