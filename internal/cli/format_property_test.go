package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"marketsim/internal/fixedpoint"
)

var groupedPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)

// Property: amounts are grouped in threes, keep two decimals and parse back.
func TestProperty_AmountFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatAmount groups digits in threes", prop.ForAll(
		func(amount float64) bool {
			formatted := strings.TrimPrefix(FormatAmount(amount), "-")
			intPart, decPart, ok := strings.Cut(formatted, ".")
			if !ok || len(decPart) != 2 {
				t.Logf("expected 2 decimals for %f, got %s", amount, formatted)
				return false
			}
			return groupedPattern.MatchString(intPart)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatAmount preserves value", prop.ForAll(
		func(amount float64) bool {
			parsed, err := parseAmount(FormatAmount(amount))
			if err != nil {
				return false
			}
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.01
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatValue is exact for fixed-point amounts", prop.ForAll(
		func(raw int64) bool {
			v := fixedpoint.Value(raw)
			parsed := strings.ReplaceAll(FormatValue(v), ",", "")
			return parsed == v.StringFixed(2)
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.Property("FormatPercent produces correct format", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			if value > 0 && !strings.HasPrefix(formatted, "+") {
				t.Logf("expected + prefix for positive %f, got %s", value, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func TestFormatAmountExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "0.00"},
		{1, "1.00"},
		{999.999, "1,000.00"},
		{1000, "1,000.00"},
		{100000, "100,000.00"},
		{10000000, "10,000,000.00"},
		{-1234.56, "-1,234.56"},
		{-0.001, "0.00"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatAmount(tc.amount))
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatPercent(tc.value))
		})
	}
}

func TestFormatValueAndPnL(t *testing.T) {
	assert.Equal(t, "10,000,000.00", FormatValue(fixedpoint.FromInt(10_000_000)))
	assert.Equal(t, "-72,012.50", FormatValue(fixedpoint.FromFloat(-72012.5)))
	assert.Equal(t, "+12.34", FormatPnL(fixedpoint.FromFloat(12.34)))
	assert.Equal(t, "0.00", FormatPnL(fixedpoint.Zero))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", FormatDuration(61*time.Minute))
}

func TestPadAndTruncate(t *testing.T) {
	assert.Equal(t, "ab  ", PadRight("ab", 4))
	assert.Equal(t, ColorGreen+"ab"+ColorReset+"  ", PadRight(ColorGreen+"ab"+ColorReset, 4))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "short", TruncateString("short", 10))
}
