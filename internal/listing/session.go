package listing

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/starford/councilhub/internal/apperr"
)

var digits = []rune("零一二三四五六七八九")

// SessionLabel renders a session number as 第N屆 with Chinese numerals.
// Numbers outside 1–99 keep Arabic digits.
func SessionLabel(n int) string {
	return "第" + chineseNumber(n) + "屆"
}

func chineseNumber(n int) string {
	switch {
	case n <= 0 || n >= 100:
		return strconv.Itoa(n)
	case n < 10:
		return string(digits[n])
	case n == 10:
		return "十"
	case n < 20:
		return "十" + string(digits[n-10])
	default:
		s := string(digits[n/10]) + "十"
		if n%10 != 0 {
			s += string(digits[n%10])
		}
		return s
	}
}

// ParseSession accepts "12", "第12屆" or "第十二屆".
func ParseSession(s string) (int, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "第")
	s = strings.TrimSuffix(s, "屆")
	if s == "" {
		return 0, apperr.Validationf("session %q is empty", raw)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if n, ok := parseChinese(s); ok {
		return n, nil
	}
	return 0, apperr.Validationf("session %q is not a number", raw)
}

func parseChinese(s string) (int, bool) {
	value := func(r rune) int {
		for i, d := range digits {
			if d == r {
				return i
			}
		}
		return -1
	}

	runes := []rune(s)
	ten := -1
	for i, r := range runes {
		if r == '十' {
			ten = i
			break
		}
	}
	if ten < 0 {
		if utf8.RuneCountInString(s) != 1 {
			return 0, false
		}
		v := value(runes[0])
		return v, v > 0
	}

	tens := 1
	switch ten {
	case 0:
	case 1:
		tens = value(runes[0])
		if tens <= 0 {
			return 0, false
		}
	default:
		return 0, false
	}

	ones := 0
	switch rest := runes[ten+1:]; len(rest) {
	case 0:
	case 1:
		ones = value(rest[0])
		if ones <= 0 {
			return 0, false
		}
	default:
		return 0, false
	}
	return tens*10 + ones, true
}
