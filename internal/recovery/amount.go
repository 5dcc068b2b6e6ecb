package recovery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformedAmount is returned when a currency amount cannot be read as a
// positive whole number of rupees.
var ErrMalformedAmount = errors.New("malformed amount")

var currencyStripper = strings.NewReplacer(
	"₹", "",
	",", "",
	" ", "",
	" ", "",
)

var currencyPrefixes = []string{"inr", "rs.", "rs"}

// ParseAmount parses a rupee amount such as "₹15,000", "Rs. 9000" or "800000".
// It is the single parser used both when loading profiles and when reading a
// proposed EMI. A trailing ".00" is accepted; any other fraction is not.
func ParseAmount(s string) (int64, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(raw, p) {
			raw = strings.TrimPrefix(raw, p)
			break
		}
	}
	raw = currencyStripper.Replace(raw)
	raw = strings.TrimSuffix(raw, "/-")
	if whole, frac, ok := strings.Cut(raw, "."); ok {
		if strings.Trim(frac, "0") != "" {
			return 0, fmt.Errorf("%w: %q has a fractional part", ErrMalformedAmount, s)
		}
		raw = whole
	}
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedAmount)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrMalformedAmount, s)
	}
	if v > MaxAmount {
		return 0, fmt.Errorf("%w: %q is out of range", ErrMalformedAmount, s)
	}
	return v, nil
}

// MaxAmount bounds every parsed amount so that policy arithmetic on
// percentages cannot overflow.
const MaxAmount int64 = 1_000_000_000_000

// minProposal separates rupee amounts from day and month counts when an
// utterance names several numbers.
const minProposal int64 = 100

var smallNumbers = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensNumbers = map[string]int64{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]int64{
	"k": 1_000, "thousand": 1_000,
	"lakh": 100_000, "lakhs": 100_000, "lac": 100_000, "lacs": 100_000,
	"million": 1_000_000,
	"crore": 10_000_000, "crores": 10_000_000,
}

// offerCues are words that introduce the amount a customer is proposing.
var offerCues = map[string]bool{
	"to": true, "manage": true, "pay": true, "offer": true, "do": true,
	"give": true, "afford": true, "about": true, "around": true,
	"maybe": true, "only": true, "just": true,
}

var currencyWords = map[string]bool{"rs": true, "inr": true, "rupees": true}

type mention struct {
	value int64
	cued  bool
}

// ExtractAmount returns the single amount named in a free-text utterance,
// e.g. "can we lower it to 9,000 per month", "maybe 9k" or "nine thousand".
func ExtractAmount(utterance string) (int64, error) {
	return ProposedAmount(utterance, 0, 0)
}

// ProposedAmount picks the EMI a customer proposes in utterance. When
// several amounts are named, small counts and restatements of the current
// EMI or loan amount are set aside, then an amount introduced by an offer
// word ("to", "manage", "pay") wins. Anything still ambiguous is malformed.
func ProposedAmount(utterance string, currentEMI, loanAmount int64) (int64, error) {
	found, err := scanAmounts(utterance)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("%w: no amount in %q", ErrMalformedAmount, utterance)
	}

	cands := narrow(found, func(m mention) bool { return m.value >= minProposal })
	cands = narrow(cands, func(m mention) bool { return m.value != currentEMI && m.value != loanAmount })
	cands = narrow(cands, func(m mention) bool { return m.cued })
	if len(cands) != 1 {
		return 0, fmt.Errorf("%w: %q names several amounts", ErrMalformedAmount, utterance)
	}
	return cands[0].value, nil
}

// MentionsAmount reports whether utterance names something that reads as
// a rupee amount rather than a count.
func MentionsAmount(utterance string) bool {
	found, err := scanAmounts(utterance)
	if err != nil {
		return true
	}
	for _, m := range found {
		if m.value >= minProposal {
			return true
		}
	}
	return false
}

// narrow keeps the distinct mentions that satisfy keep, or all of them
// when none does.
func narrow(ms []mention, keep func(mention) bool) []mention {
	var out []mention
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return ms
	}
	return out
}

// scanAmounts lists the distinct amounts in utterance. A number that is
// out of range or carries a fraction makes the whole utterance malformed.
func scanAmounts(utterance string) ([]mention, error) {
	toks := tokenize(strings.ToLower(normalizeApostrophes(utterance)))
	var out []mention
	for i := 0; i < len(toks); {
		v, end, ok := readNumber(toks, i)
		if end == i {
			i++
			continue
		}
		if !ok {
			return nil, fmt.Errorf("%w: unreadable amount in %q", ErrMalformedAmount, utterance)
		}
		cued := false
		for j := i - 1; j >= 0; j-- {
			if currencyWords[toks[j]] {
				continue
			}
			cued = offerCues[toks[j]]
			break
		}
		out = addMention(out, mention{value: v, cued: cued})
		i = end
	}
	return out, nil
}

func addMention(ms []mention, m mention) []mention {
	for i := range ms {
		if ms[i].value == m.value {
			ms[i].cued = ms[i].cued || m.cued
			return ms
		}
	}
	return append(ms, m)
}

// tokenize splits s into letter runs and digit runs. Digit runs keep inner
// commas and a decimal point, so "₹15,000." yields "15,000".
func tokenize(s string) []string {
	rs := []rune(s)
	var toks []string
	for i := 0; i < len(rs); {
		switch {
		case isDigit(rs[i]):
			j := i + 1
			for j < len(rs) && (isDigit(rs[j]) || ((rs[j] == ',' || rs[j] == '.') && j+1 < len(rs) && isDigit(rs[j+1]))) {
				j++
			}
			toks = append(toks, string(rs[i:j]))
			i = j
		case unicode.IsLetter(rs[i]):
			j := i + 1
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			toks = append(toks, string(rs[i:j]))
			i = j
		default:
			i++
		}
	}
	return toks
}

type numberPart int

const (
	partNone numberPart = iota
	partDigits
	partUnit
	partTens
	partHundred
	partScale
)

// readNumber reads one number phrase starting at toks[start], such as
// "12,500", "9 k", "1.5 lakh" or "ten thousand five hundred". end is start
// when no number begins there; ok is false for a phrase that does not
// come to a whole amount within MaxAmount.
func readNumber(toks []string, start int) (v int64, end int, ok bool) {
	var total, current int64
	var digits string
	last := partNone
	ok = true
	end = start

loop:
	for j := start; j < len(toks); j++ {
		t := toks[j]
		switch {
		case isDigit(rune(t[0])):
			if last != partNone {
				break loop
			}
			digits = t
			last = partDigits
		case t == "a" && last == partNone:
			if j+1 >= len(toks) || (toks[j+1] != "hundred" && scaleWords[toks[j+1]] == 0) {
				break loop
			}
			current = 1
			last = partUnit
		case t == "and":
			if last == partNone || last == partDigits || j+1 >= len(toks) || !isNumberWord(toks[j+1]) {
				break loop
			}
		case isSmallNumber(t):
			if last == partDigits || last == partUnit {
				break loop
			}
			current += smallNumbers[t]
			last = partUnit
		case tensNumbers[t] > 0:
			if last == partDigits || last == partUnit || last == partTens {
				break loop
			}
			current += tensNumbers[t]
			last = partTens
		case t == "hundred":
			if last == partNone || last == partHundred || last == partScale {
				break loop
			}
			if last == partDigits {
				current, ok = scaleDecimal(digits, 100)
				digits = ""
			} else {
				current, ok = mulAmount(current, 100)
			}
			last = partHundred
		case scaleWords[t] > 0:
			if last == partNone || last == partScale {
				break loop
			}
			m := scaleWords[t]
			var part int64
			if last == partDigits {
				part, ok = scaleDecimal(digits, m)
				digits = ""
			} else {
				part, ok = mulAmount(current, m)
			}
			total += part
			current = 0
			last = partScale
		default:
			break loop
		}
		end = j + 1
		if !ok {
			return 0, end, false
		}
	}

	if end == start {
		return 0, start, false
	}
	if digits != "" {
		current, ok = scaleDecimal(digits, 1)
		if !ok {
			return 0, end, false
		}
	}
	v = total + current
	if v > MaxAmount || v < 0 {
		return 0, end, false
	}
	return v, end, true
}

func isSmallNumber(t string) bool {
	_, ok := smallNumbers[t]
	return ok
}

func isNumberWord(t string) bool {
	return isSmallNumber(t) || tensNumbers[t] > 0 || t == "hundred" || isDigit(rune(t[0]))
}

// scaleDecimal multiplies a digit run such as "1.5" or "12,500" by m,
// requiring a whole result within MaxAmount.
func scaleDecimal(digits string, m int64) (int64, bool) {
	raw := strings.ReplaceAll(digits, ",", "")
	whole, frac, _ := strings.Cut(raw, ".")
	frac = strings.TrimRight(frac, "0")
	if len(whole)+len(frac) > 13 {
		return 0, false
	}
	mant, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, false
	}
	div := int64(1)
	for range frac {
		div *= 10
	}
	v, ok := mulAmount(mant, m)
	if !ok || v%div != 0 {
		return 0, false
	}
	return v / div, true
}

func mulAmount(a, m int64) (int64, bool) {
	if a != 0 && a > (MaxAmount*1000)/m {
		return 0, false
	}
	return a * m, true
}

// FormatRupees renders an amount with thousands separators, e.g. ₹15,000.
func FormatRupees(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-₹" + b.String()
	}
	return "₹" + b.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
