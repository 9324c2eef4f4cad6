package mapper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Salary normalization convention: integer CNY per month. Ranges quoted per
// year are divided by 12 and rounded to the nearest yuan. Text that matches
// no pattern (for example the negotiable marker 面议) yields nil bounds with
// the original text preserved by the caller.
type salaryPattern struct {
	re      *regexp.Regexp
	minMul  float64
	maxMul  float64
	perYear bool
}

var salaryPatterns = []salaryPattern{
	// Mixed-unit range, e.g. "8千-1.2万/月".
	{regexp.MustCompile(`(\d+(?:\.\d+)?)千-(\d+(?:\.\d+)?)万/月`), 1000, 10000, false},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)千/月`), 1000, 1000, false},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)万/月`), 10000, 10000, false},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)万/年`), 10000, 10000, true},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)[Kk]`), 1000, 1000, false},
}

// ParseSalary extracts monthly CNY bounds from a salary string. Both returns
// are nil when the text is empty or matches no known pattern; parsing failure
// is never an error.
func ParseSalary(text string) (*int, *int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	for _, p := range salaryPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		lo *= p.minMul
		hi *= p.maxMul
		if p.perYear {
			lo /= 12
			hi /= 12
		}
		minV := int(math.Round(lo))
		maxV := int(math.Round(hi))
		if minV > maxV {
			minV, maxV = maxV, minV
		}
		return &minV, &maxV
	}
	return nil, nil
}
