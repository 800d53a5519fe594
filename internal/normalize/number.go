package normalize

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyCodes = []string{"US$", "USD", "EUR", "GBP", "CAD", "INR"}

const currencySymbols = "$€£¥₹"

var digitsRe = regexp.MustCompile(`^[\d.,' ]*\d[\d.,' ]*$`)

// ParseNumber 解析带货币符号/千分位/会计负号/百分号的数字
//
// "$1,234.50"、"1.234,50 €"、"USD 1234.5" 得到同一个值；"(30.00)" 为 -30；"50%" 为 0.5。
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	s = stripCurrency(s)

	// 符号可能在货币符号前后，例如 "-$5" / "$-5" / "5-"
	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, "+"):
		s = strings.TrimSpace(s[1:])
	case strings.HasSuffix(s, "-"):
		negative = !negative
		s = strings.TrimSpace(s[:len(s)-1])
	}
	s = stripCurrency(s)

	if !digitsRe.MatchString(s) {
		return decimal.Zero, false
	}

	canonical, ok := canonicalDigits(s)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, false
	}
	if percent {
		d = d.Shift(-2)
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func stripCurrency(s string) string {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for _, code := range currencyCodes {
		if strings.HasPrefix(upper, code) {
			s, upper = strings.TrimSpace(s[len(code):]), strings.TrimSpace(upper[len(code):])
		}
		if strings.HasSuffix(upper, code) {
			s, upper = strings.TrimSpace(s[:len(s)-len(code)]), strings.TrimSpace(upper[:len(upper)-len(code)])
		}
	}
	s = strings.TrimLeft(s, currencySymbols+" ")
	s = strings.TrimRight(s, currencySymbols+" ")
	return s
}

// canonicalDigits 判定小数点/千分位并输出 "1234.5" 形式
func canonicalDigits(s string) (string, bool) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	decimalSep := byte(0)
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			decimalSep = ','
		} else {
			decimalSep = '.'
		}
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 {
			decimalSep = '.'
		}
	case lastComma >= 0:
		// 单个逗号且后面不是 3 位数字时视为小数逗号："12,5"；"1,234" 视为千分位
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			decimalSep = ','
		}
	}

	intPart, fracPart := s, ""
	if decimalSep != 0 {
		i := strings.LastIndexByte(s, decimalSep)
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" || strings.ContainsAny(fracPart, ".,' ") {
			return "", false
		}
	}

	if strings.ContainsAny(intPart, ".,' ") {
		groups := splitGroups(intPart)
		if groups == nil {
			return "", false
		}
		intPart = strings.Join(groups, "")
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart, true
	}
	return intPart + "." + fracPart, true
}

var errGrouping = errors.New("bad digit grouping")

// splitGroups 校验千分位分组：首组 1-3 位，其后每组 3 位，且只使用一种分隔符
func splitGroups(s string) []string {
	sep := rune(0)
	for _, r := range s {
		if r == '.' || r == ',' || r == '\'' || r == ' ' {
			if sep != 0 && r != sep {
				return nil
			}
			sep = r
		}
	}
	groups := strings.Split(s, string(sep))
	if err := checkGroups(groups); err != nil {
		return nil
	}
	return groups
}

func checkGroups(groups []string) error {
	for i, g := range groups {
		if g == "" {
			return errGrouping
		}
		if i == 0 && len(g) > 3 {
			return errGrouping
		}
		if i > 0 && len(g) != 3 {
			return errGrouping
		}
	}
	return nil
}
