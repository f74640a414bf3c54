package tokenizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	commaNumberRE = regexp.MustCompile(`([0-9][0-9,]+[0-9])`)
	decimalRE     = regexp.MustCompile(`([0-9]+\.[0-9]+)`)
	poundsRE      = regexp.MustCompile(`£([0-9,]*[0-9]+)`)
	dollarsRE     = regexp.MustCompile(`\$([0-9.,]*[0-9]+)`)
	ordinalRE     = regexp.MustCompile(`[0-9]+(st|nd|rd|th)`)
	numberRE      = regexp.MustCompile(`[0-9]+`)
)

var (
	ones = []string{
		"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
		"seventeen", "eighteen", "nineteen",
	}
	tens   = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
	scales = []string{"", "thousand", "million", "billion", "trillion", "quadrillion"}
)

// ExpandNumbers spells out currency, decimals, ordinals and cardinals.
func ExpandNumbers(text string) string {
	text = commaNumberRE.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
	text = poundsRE.ReplaceAllString(text, "$1 pounds")
	text = dollarsRE.ReplaceAllStringFunc(text, func(m string) string {
		return expandDollars(m[1:])
	})
	text = decimalRE.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Replace(m, ".", " point ", 1)
	})
	text = ordinalRE.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.ParseInt(m[:len(m)-2], 10, 64)
		if err != nil {
			return m
		}
		return OrdinalWords(n)
	})
	text = numberRE.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return m
		}
		return expandNumber(n)
	})
	return text
}

func expandDollars(amount string) string {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return amount + " dollars"
	}

	dollars, _ := strconv.Atoi(strings.ReplaceAll(parts[0], ",", ""))
	cents := 0
	if len(parts) > 1 {
		cents, _ = strconv.Atoi(parts[1])
	}

	unit := func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	}

	switch {
	case dollars > 0 && cents > 0:
		return fmt.Sprintf("%d %s, %d %s", dollars, unit(dollars, "dollar", "dollars"), cents, unit(cents, "cent", "cents"))
	case dollars > 0:
		return fmt.Sprintf("%d %s", dollars, unit(dollars, "dollar", "dollars"))
	case cents > 0:
		return fmt.Sprintf("%d %s", cents, unit(cents, "cent", "cents"))
	default:
		return "zero dollars"
	}
}

// expandNumber reads years between 1000 and 3000 the way people say them.
func expandNumber(n int64) string {
	if n <= 1000 || n >= 3000 {
		return NumberWords(n)
	}

	switch {
	case n == 2000:
		return "two thousand"
	case n > 2000 && n < 2010:
		return "two thousand " + NumberWords(n%100)
	case n%100 == 0:
		return NumberWords(n/100) + " hundred"
	default:
		hi, lo := n/100, n%100
		if lo < 10 {
			return NumberWords(hi) + " oh " + NumberWords(lo)
		}
		return NumberWords(hi) + " " + NumberWords(lo)
	}
}

// NumberWords spells out a cardinal number, e.g. 1234 as
// "one thousand, two hundred thirty-four".
func NumberWords(n int64) string {
	if n < 0 {
		return "minus " + NumberWords(-n)
	}
	if n < 1000 {
		return belowThousand(int(n))
	}

	var groups []string
	for scale := 0; n > 0; scale++ {
		chunk := int(n % 1000)
		n /= 1000
		if chunk == 0 {
			continue
		}
		words := belowThousand(chunk)
		if scale > 0 && scale < len(scales) {
			words += " " + scales[scale]
		}
		groups = append([]string{words}, groups...)
	}
	return strings.Join(groups, ", ")
}

func belowThousand(n int) string {
	switch {
	case n < 20:
		return ones[n]
	case n < 100:
		if n%10 == 0 {
			return tens[n/10]
		}
		return tens[n/10] + "-" + ones[n%10]
	default:
		words := ones[n/100] + " hundred"
		if n%100 != 0 {
			words += " " + belowThousand(n%100)
		}
		return words
	}
}

var irregularOrdinals = map[string]string{
	"one":    "first",
	"two":    "second",
	"three":  "third",
	"five":   "fifth",
	"eight":  "eighth",
	"nine":   "ninth",
	"twelve": "twelfth",
}

// OrdinalWords spells out an ordinal number, e.g. 22 as "twenty-second".
func OrdinalWords(n int64) string {
	words := NumberWords(n)

	cut := strings.LastIndexAny(words, " -")
	head, last := words[:cut+1], words[cut+1:]

	if irr, ok := irregularOrdinals[last]; ok {
		return head + irr
	}
	if strings.HasSuffix(last, "y") {
		return head + strings.TrimSuffix(last, "y") + "ieth"
	}
	return head + last + "th"
}
