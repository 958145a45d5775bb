/*
calculator.go - Surcharge hours for one shift

PURPOSE:
  Converts a shift's start/end hours and Sunday/holiday flags into total
  hours and the six surcharge categories of Colombian labor law.

RULES:
  Normal shift is 10h. The night window is 21:00-06:00.
  special = sunday OR holiday.

  total = end - start, plus 24 when <= 0 (start == end is a full 24h wrap)
  HEN   = !special && total > 10 && end > 21 ? end - 21 : 0
  HED   = !special && total > 10 ? max(total - 10 - HEN, 0) : 0
  HEFN  =  special && total > 10 && end > 21 ? end - 21 : 0
  HEFD  =  special && total > 10 ? max(total - 10 - HEFN, 0) : 0
  RN    = (start < 6 ? 6 - start : 0)
        + (end > 21 ? (start > 21 ? end - start : end - 21) : 0)
  RD    =  special ? min(total, 10) : 0

  RN is evaluated on absolute, non-wrapped hours. A shift from 22 to 5
  therefore yields RN = 0. Payroll figures downstream depend on this.

  Every value is rounded to 2 decimals, half away from zero.

EXAMPLE:
  b := Calculate(Shift{Start: decimal.NewFromInt(6), End: decimal.NewFromInt(23)})
  // b.Total=17 b.HEN=2 b.HED=5 b.RN=2

SEE ALSO:
  - ledger.go: Persists the non-zero categories as surcharge lines
*/
package recargo

import (
	"github.com/shopspring/decimal"
)

var (
	normalShift = decimal.NewFromInt(10)
	nightStart  = decimal.NewFromInt(21)
	nightEnd    = decimal.NewFromInt(6)
	fullDay     = decimal.NewFromInt(24)
)

// Shift is the calculator input.
type Shift struct {
	Start   decimal.Decimal
	End     decimal.Decimal
	Sunday  bool
	Holiday bool
}

// Special is true on Sundays and holidays.
func (s Shift) Special() bool { return s.Sunday || s.Holiday }

// Breakdown is the calculator output. All six categories are always set.
type Breakdown struct {
	Total decimal.Decimal `json:"total_hours"`
	HED   decimal.Decimal `json:"hed"`
	HEN   decimal.Decimal `json:"hen"`
	HEFD  decimal.Decimal `json:"hefd"`
	HEFN  decimal.Decimal `json:"hefn"`
	RN    decimal.Decimal `json:"rn"`
	RD    decimal.Decimal `json:"rd"`
}

// Calculate computes the breakdown for one shift.
func Calculate(s Shift) Breakdown {
	special := s.Special()

	total := s.End.Sub(s.Start)
	if total.LessThanOrEqual(decimal.Zero) {
		total = total.Add(fullDay)
	}
	overtime := total.GreaterThan(normalShift)
	lateEnd := s.End.GreaterThan(nightStart)

	b := Breakdown{Total: total}

	if overtime {
		night := decimal.Zero
		if lateEnd {
			night = s.End.Sub(nightStart)
		}
		day := decimal.Max(total.Sub(normalShift).Sub(night), decimal.Zero)
		if special {
			b.HEFN, b.HEFD = night, day
		} else {
			b.HEN, b.HED = night, day
		}
	}

	rn := decimal.Zero
	if s.Start.LessThan(nightEnd) {
		rn = rn.Add(nightEnd.Sub(s.Start))
	}
	if lateEnd {
		if s.Start.GreaterThan(nightStart) {
			rn = rn.Add(s.End.Sub(s.Start))
		} else {
			rn = rn.Add(s.End.Sub(nightStart))
		}
	}
	b.RN = rn

	if special {
		b.RD = decimal.Min(total, normalShift)
	}

	return b.rounded()
}

func (b Breakdown) rounded() Breakdown {
	return Breakdown{
		Total: b.Total.Round(2),
		HED:   b.HED.Round(2),
		HEN:   b.HEN.Round(2),
		HEFD:  b.HEFD.Round(2),
		HEFN:  b.HEFN.Round(2),
		RN:    b.RN.Round(2),
		RD:    b.RD.Round(2),
	}
}

// ByCode returns the hours of one category.
func (b Breakdown) ByCode(c Code) decimal.Decimal {
	switch c {
	case CodeHED:
		return b.HED
	case CodeHEN:
		return b.HEN
	case CodeHEFD:
		return b.HEFD
	case CodeHEFN:
		return b.HEFN
	case CodeRN:
		return b.RN
	case CodeRD:
		return b.RD
	}
	return decimal.Zero
}

// NonZero returns the categories with hours, in code order.
func (b Breakdown) NonZero() map[Code]decimal.Decimal {
	out := make(map[Code]decimal.Decimal)
	for _, c := range Codes {
		if h := b.ByCode(c); !h.IsZero() {
			out[c] = h
		}
	}
	return out
}
