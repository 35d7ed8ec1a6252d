package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestAgeDays(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"same day", day(0), day(0), 0},
		{"five days", day(0), day(5), 5},
		{"partial days count calendar days", day(0).Add(23 * time.Hour), day(1).Add(time.Hour), 1},
		{"future income clamps to zero", day(5), day(1), 0},
		{"non-UTC input", day(0).In(time.FixedZone("UTC+8", 8*3600)), day(3), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AgeDays(tt.from, tt.to))
		})
	}
}

func TestOrderKey_Before(t *testing.T) {
	a := OrderKey{Date: day(1), Seq: 5}
	b := OrderKey{Date: day(1), Seq: 6}
	c := OrderKey{Date: day(2), Seq: 1}

	assert.True(t, a.Before(b), "same date orders by seq")
	assert.True(t, b.Before(c), "earlier date wins over seq")
	assert.False(t, c.Before(a))
	assert.False(t, a.Before(a))
	assert.Equal(t, c, a.Later(c))
	assert.True(t, OrderKey{}.IsZero())
}

func TestParseTransactionType(t *testing.T) {
	typ, err := ParseTransactionType(" Income ")
	require.NoError(t, err)
	assert.Equal(t, TypeIncome, typ)

	_, err = ParseTransactionType("transfer")
	assert.Error(t, err)
}

func TestPoolCheckConservation(t *testing.T) {
	p := NewPool(Transaction{ID: "inc-1", Type: TypeIncome, Amount: decimal.RequireFromString("100"), Date: day(0), Seq: 1})
	require.NoError(t, p.CheckConservation())

	p.RemainingAmount = decimal.RequireFromString("70")
	p.ConsumedAmount = decimal.RequireFromString("30")
	require.NoError(t, p.CheckConservation())

	p.ConsumedAmount = decimal.RequireFromString("31")
	assert.Error(t, p.CheckConservation())

	p.RemainingAmount = decimal.RequireFromString("-1")
	p.ConsumedAmount = decimal.RequireFromString("101")
	assert.Error(t, p.CheckConservation())
}

func TestIDsAreStable(t *testing.T) {
	assert.Equal(t, PoolID("inc-1"), PoolID("inc-1"))
	assert.NotEqual(t, PoolID("inc-1"), PoolID("inc-2"))
	assert.Equal(t, ConsumptionID("exp-1", "p"), ConsumptionID("exp-1", "p"))
	assert.NotEqual(t, ConsumptionID("ab", "c"), ConsumptionID("a", "bc"))
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestWeightedAge(t *testing.T) {
	// (40×10 + 60×5) / 100 = 7
	weighted := decimal.NewFromInt(40 * 10).Add(decimal.NewFromInt(60 * 5))
	days, exact := WeightedAge(weighted, decimal.NewFromInt(100))
	assert.Equal(t, 7, days)
	assert.Equal(t, "7", exact.String())

	days, exact = WeightedAge(decimal.NewFromInt(10), decimal.Zero)
	assert.Equal(t, 0, days)
	assert.True(t, exact.IsZero())
}

func TestThresholdsLevel(t *testing.T) {
	th := DefaultThresholds
	assert.Equal(t, LevelHealth, th.Level(0))
	assert.Equal(t, LevelHealth, th.Level(29))
	assert.Equal(t, LevelWarning, th.Level(30))
	assert.Equal(t, LevelDanger, th.Level(60))
}

func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b": int64(2),
		"a": []any{"x<y", true, 1},
		"c": "line\nbreak",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x<y",true,1],"b":2,"c":"line\nbreak"}`, string(out))

	_, err = MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestDigest_OrderIndependentAndScaleInsensitive(t *testing.T) {
	p1 := NewPool(Transaction{ID: "inc-1", Amount: decimal.RequireFromString("100.00"), Date: day(0), Seq: 1})
	p2 := NewPool(Transaction{ID: "inc-2", Amount: decimal.RequireFromString("50"), Date: day(1), Seq: 2})

	d1, err := Digest([]ResourcePool{p1, p2}, nil)
	require.NoError(t, err)
	d2, err := Digest([]ResourcePool{p2, p1}, nil)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	p1.OriginalAmount = decimal.RequireFromString("100")
	p1.RemainingAmount = decimal.RequireFromString("100.0")
	d3, err := Digest([]ResourcePool{p1, p2}, nil)
	require.NoError(t, err)
	assert.Equal(t, d1, d3, "decimal scale must not change the digest")

	p2.RemainingAmount = decimal.RequireFromString("49")
	d4, err := Digest([]ResourcePool{p1, p2}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d4)
}

func TestFormatParseTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 800, time.UTC)
	s := FormatTime(ts)
	assert.Equal(t, "2026-03-04T05:06:07.000000800Z", s)

	back, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(back))

	assert.Less(t, FormatTime(day(0)), FormatTime(day(0).Add(500*time.Millisecond)))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2026-01-03", want: day(2)},
		{in: " 2026-01-03 ", want: day(2)},
		{in: "2026-01-03T06:30:00", want: day(2).Add(6*time.Hour + 30*time.Minute)},
		{in: "2026-01-03T08:00:00+02:00", want: day(2).Add(6 * time.Hour)},
		{in: "03/01/2026", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
