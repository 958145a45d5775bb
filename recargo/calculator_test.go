package recargo_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/recargo-engine/recargo"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// breakdownOf renders a breakdown as code -> hours strings for compact asserts.
func breakdownOf(b recargo.Breakdown) map[string]string {
	return map[string]string{
		"total": b.Total.String(),
		"HED":   b.HED.String(),
		"HEN":   b.HEN.String(),
		"HEFD":  b.HEFD.String(),
		"HEFN":  b.HEFN.String(),
		"RN":    b.RN.String(),
		"RD":    b.RD.String(),
	}
}

func TestCalculate_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		shift recargo.Shift
		want  map[string]string
	}{
		{
			name:  "weekday with one hour of day overtime",
			shift: recargo.Shift{Start: dec("8"), End: dec("19")},
			want:  map[string]string{"total": "11", "HED": "1", "HEN": "0", "HEFD": "0", "HEFN": "0", "RN": "0", "RD": "0"},
		},
		{
			name:  "weekday ending at night",
			shift: recargo.Shift{Start: dec("6"), End: dec("23")},
			want:  map[string]string{"total": "17", "HED": "5", "HEN": "2", "HEFD": "0", "HEFN": "0", "RN": "2", "RD": "0"},
		},
		{
			name:  "sunday without overtime",
			shift: recargo.Shift{Start: dec("8"), End: dec("16"), Sunday: true},
			want:  map[string]string{"total": "8", "HED": "0", "HEN": "0", "HEFD": "0", "HEFN": "0", "RN": "0", "RD": "8"},
		},
		{
			name:  "holiday ending at night",
			shift: recargo.Shift{Start: dec("10"), End: dec("23"), Holiday: true},
			want:  map[string]string{"total": "13", "HED": "0", "HEN": "0", "HEFD": "1", "HEFN": "2", "RN": "2", "RD": "10"},
		},
		{
			name:  "overnight shift keeps night surcharge at zero",
			shift: recargo.Shift{Start: dec("22"), End: dec("5")},
			want:  map[string]string{"total": "7", "HED": "0", "HEN": "0", "HEFD": "0", "HEFN": "0", "RN": "0", "RD": "0"},
		},
		{
			name:  "early start counts night hours before six",
			shift: recargo.Shift{Start: dec("4"), End: dec("12")},
			want:  map[string]string{"total": "8", "HED": "0", "HEN": "0", "HEFD": "0", "HEFN": "0", "RN": "2", "RD": "0"},
		},
		{
			name:  "sunday and holiday together count once",
			shift: recargo.Shift{Start: dec("7"), End: dec("19"), Sunday: true, Holiday: true},
			want:  map[string]string{"total": "12", "HED": "0", "HEN": "0", "HEFD": "2", "HEFN": "0", "RN": "0", "RD": "10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, breakdownOf(recargo.Calculate(tt.shift)))
		})
	}
}

func TestCalculate_EqualStartAndEndIsFullDay(t *testing.T) {
	for h := 0; h < 24; h++ {
		b := recargo.Calculate(recargo.Shift{Start: decimal.NewFromInt(int64(h)), End: decimal.NewFromInt(int64(h))})
		assert.Equal(t, "24", b.Total.String(), "start=end=%d", h)
	}
}

func TestCalculate_RoundsHalfAwayFromZero(t *testing.T) {
	// GIVEN: A shift whose overtime lands on a third decimal of 5
	shift := recargo.Shift{Start: dec("0"), End: dec("10.125")}

	// WHEN: Calculating
	b := recargo.Calculate(shift)

	// THEN: Both the total and the overtime round up
	assert.Equal(t, "10.13", b.Total.String())
	assert.Equal(t, "0.13", b.HED.String())
	assert.Equal(t, "6", b.RN.String())
}

func TestCalculate_OvertimeCategoriesPartitionTheExcess(t *testing.T) {
	half := dec("0.5")
	ten := decimal.NewFromInt(10)
	for start := decimal.Zero; start.LessThan(decimal.NewFromInt(24)); start = start.Add(half) {
		for end := decimal.Zero; end.LessThan(decimal.NewFromInt(24)); end = end.Add(half) {
			for _, special := range []bool{false, true} {
				b := recargo.Calculate(recargo.Shift{Start: start, End: end, Holiday: special})
				name := fmt.Sprintf("%s-%s special=%v", start, end, special)

				day, night := b.HED, b.HEN
				if special {
					day, night = b.HEFD, b.HEFN
					assert.True(t, b.HED.IsZero() && b.HEN.IsZero(), name)
				} else {
					assert.True(t, b.HEFD.IsZero() && b.HEFN.IsZero(), name)
				}
				assert.False(t, day.IsNegative(), name)
				assert.False(t, night.IsNegative(), name)

				excess := decimal.Max(b.Total.Sub(ten), decimal.Zero)
				if excess.IsZero() {
					assert.True(t, day.IsZero() && night.IsZero(), name)
					continue
				}
				// Day overtime only takes what night overtime left over.
				assert.True(t, day.Add(night).Equal(decimal.Max(excess, night)), name)
				assert.False(t, b.Total.GreaterThan(decimal.NewFromInt(24)), name)
			}
		}
	}
}

func TestBreakdown_NonZero(t *testing.T) {
	b := recargo.Calculate(recargo.Shift{Start: dec("6"), End: dec("23")})

	nz := b.NonZero()

	assert.Len(t, nz, 3)
	assert.Equal(t, "5", nz[recargo.CodeHED].String())
	assert.Equal(t, "2", nz[recargo.CodeHEN].String())
	assert.Equal(t, "2", nz[recargo.CodeRN].String())
}
