package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Field aliases seen across the two price-list backends, most specific first.
var (
	serviceNameKeys  = []string{"name", "service_name", "serviceName", "ServiceName", "test_name", "testName", "item_name", "itemName", "description"}
	servicePriceKeys = []string{"price", "rate", "Rate", "service_charge", "serviceCharge", "charge", "amount", "Amount", "mrp"}
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	priceNoiseRe   = regexp.MustCompile(`(?i)(rs\.?|npr|inr|/-)`)
	thousandsSepRe = regexp.MustCompile(`(\d),(\d{3})`)
)

// ServiceFields is the canonical view of one raw upstream service item
type ServiceFields struct {
	Name  string
	Price float64
}

// NormalizeServiceFields extracts the display name and price from a raw item.
// ok is false when the item carries no usable name. A missing or unparseable
// price is reported as 0.
func NormalizeServiceFields(raw map[string]interface{}) (fields ServiceFields, ok bool) {
	name := CleanServiceName(firstString(raw, serviceNameKeys))
	if name == "" {
		return ServiceFields{}, false
	}

	for _, key := range servicePriceKeys {
		if v, present := raw[key]; present && v != nil {
			if price, parsed := ParsePrice(v); parsed {
				fields.Price = price
				break
			}
		}
	}
	fields.Name = name
	return fields, true
}

// CleanServiceName collapses whitespace and trims the name
func CleanServiceName(name string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
}

// ParsePrice accepts numbers and strings such as "1,200", "Rs. 350" or "450.50/-".
// Prices are rounded to two decimal places.
func ParsePrice(v interface{}) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := priceNoiseRe.ReplaceAllString(val, "")
		for thousandsSepRe.MatchString(s) {
			s = thousandsSepRe.ReplaceAllString(s, "$1$2")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return math.Round(f*100) / 100, true
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, key := range keys {
		v, present := raw[key]
		if !present || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case fmt.Stringer:
			s = val.String()
		default:
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
