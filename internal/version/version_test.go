package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		precision int
		digits    [Width]int
	}{
		{name: "major only", in: "2", want: "2.0", precision: 1},
		{name: "one digit", in: "2.3", want: "2.3", precision: 1, digits: [Width]int{3}},
		{name: "two digits", in: "1.20", want: "1.20", precision: 2, digits: [Width]int{2, 0}},
		{name: "five digits", in: "0.12345", want: "0.12345", precision: 5, digits: [Width]int{1, 2, 3, 4, 5}},
		{name: "extra digits ignored", in: "1.23456789", want: "1.23456", precision: 5, digits: [Width]int{2, 3, 4, 5, 6}},
		{name: "surrounding space", in: "  4.5 ", want: "4.5", precision: 1, digits: [Width]int{5}},
		{name: "empty", in: "", want: "0.0", precision: 1},
		{name: "prefixed", in: "v1.2", want: "0.0", precision: 1},
		{name: "three parts", in: "1.2.3", want: "0.0", precision: 1},
		{name: "negative", in: "-1", want: "0.0", precision: 1},
		{name: "trailing dot", in: "3.", want: "0.0", precision: 1},
		{name: "major overflow", in: "99999999999999999999999", want: "0.0", precision: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Parse(tt.in)
			assert.Equal(t, tt.want, v.String())
			assert.Equal(t, tt.precision, v.Precision())
			assert.Equal(t, tt.digits, v.Digits())
		})
	}
}

func TestZeroValueRendersAsZero(t *testing.T) {
	var v Version
	assert.Equal(t, "0.0", v.String())
	assert.Equal(t, 1, v.Precision())
}

func TestNewClamps(t *testing.T) {
	v := New(3, 9, 12, -4, 5)
	assert.Equal(t, [Width]int{9, 0, 5, 0, 0}, v.Digits())
	assert.Equal(t, Width, v.Precision())
	assert.Equal(t, "3.90500", v.String())

	assert.Equal(t, 1, New(1, 0).Precision())
}

func TestBump(t *testing.T) {
	tests := []struct {
		name string
		from string
		tier Tier
		want string
	}{
		{name: "skip is identity", from: "1.5", tier: TierSkip, want: "1.5"},
		{name: "major resets fraction", from: "7.12345", tier: TierMajor, want: "8.0"},

		{name: "refactor increments digit 0", from: "3.4", tier: TierRefactor, want: "3.5"},
		{name: "refactor floors finer digits", from: "3.45", tier: TierRefactor, want: "3.5"},
		{name: "refactor carries into major", from: "3.9", tier: TierRefactor, want: "4.0"},

		{name: "feat increments digit 1", from: "1.2", tier: TierFeat, want: "1.21"},
		{name: "feat keeps trailing digits", from: "1.2001", tier: TierFeat, want: "1.2101"},
		{name: "feat keeps five digit precision", from: "1.23456", tier: TierFeat, want: "1.24456"},
		{name: "feat saturates at nine", from: "1.29", tier: TierFeat, want: "1.29"},

		{name: "minor increments digit 2", from: "1.2345", tier: TierMinor, want: "1.235"},
		{name: "minor raises precision", from: "1.2", tier: TierMinor, want: "1.201"},
		{name: "minor carries through digit 1", from: "1.299", tier: TierMinor, want: "1.300"},

		{name: "fix increments digit 3", from: "3.5678", tier: TierFix, want: "3.5679"},
		{name: "fix carries into digit 2", from: "3.5679", tier: TierFix, want: "3.5680"},
		{name: "fix carries through feat digit", from: "1.0999", tier: TierFix, want: "1.1000"},
		{name: "fix carries into major", from: "3.9999", tier: TierFix, want: "4.0"},
		{name: "fix floors tiny digit", from: "3.12345", tier: TierFix, want: "3.1235"},

		{name: "tiny increments digit 4", from: "1.2", tier: TierTiny, want: "1.20001"},
		{name: "tiny carries into digit 3", from: "1.00009", tier: TierTiny, want: "1.00010"},
		{name: "tiny carries into major", from: "1.99999", tier: TierTiny, want: "2.0"},

		{name: "unknown tier is identity", from: "1.5", tier: Tier("bogus"), want: "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bump(Parse(tt.from), tt.tier)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestBump_CheckpointScenario(t *testing.T) {
	v := Parse("2.3")

	v = Bump(v, TierFix)
	assert.Equal(t, "2.3001", v.String())

	v = Bump(v, TierFeat)
	assert.Equal(t, "2.3101", v.String())
}

func TestBump_FeatRetainsHiddenDigits(t *testing.T) {
	// A refactor hides digits beyond precision 1 only by zeroing them; a later
	// feat bump must not resurrect anything.
	v := Bump(Parse("2.3456"), TierRefactor)
	require.Equal(t, "2.4", v.String())
	assert.Equal(t, [Width]int{4, 0, 0, 0, 0}, v.Digits())

	v = Bump(v, TierFeat)
	assert.Equal(t, "2.41", v.String())
}

func TestMajorFloor(t *testing.T) {
	v := MajorFloor(12)
	assert.Equal(t, "12.0", v.String())
	assert.Equal(t, uint64(12), v.Major())
	assert.Equal(t, [Width]int{}, v.Digits())
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(Parse("1.2"), Parse("1.20000")))
	assert.Equal(t, -1, Compare(Parse("1.2"), Parse("1.21")))
	assert.Equal(t, 1, Compare(Parse("2.0"), Parse("1.99999")))
	assert.False(t, Equal(Parse("1.2"), Parse("1.20")))
	assert.True(t, Equal(Parse("1.20"), Parse("1.20")))
}

func TestParseTier(t *testing.T) {
	for _, name := range []string{"major", "refactor", "feat", "minor", "fix", "tiny", "skip", " FIX "} {
		_, err := ParseTier(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseTier("patch")
	assert.Error(t, err)

	assert.True(t, TierTiny.Valid())
	assert.True(t, TierMajor.Valid())
	assert.False(t, TierSkip.Valid())
}

func TestVersionJSON(t *testing.T) {
	type record struct {
		Version Version `json:"version"`
	}

	data, err := json.Marshal(record{Version: Parse("2.3101")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"2.3101"}`, string(data))

	var back record
	require.NoError(t, json.Unmarshal([]byte(`{"version":"garbage"}`), &back))
	assert.Equal(t, "0.0", back.Version.String())
}

func genVersion() *rapid.Generator[Version] {
	return rapid.Custom(func(t *rapid.T) Version {
		major := rapid.Uint64Range(0, 1000).Draw(t, "major")
		precision := rapid.IntRange(1, Width).Draw(t, "precision")
		digits := rapid.SliceOfN(rapid.IntRange(0, 9), Width, Width).Draw(t, "digits")
		return New(major, precision, digits...)
	})
}

func TestProperty_BumpKeepsDigitsInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genVersion().Draw(t, "v")
		tier := rapid.SampledFrom(append([]Tier{TierSkip}, Tiers...)).Draw(t, "tier")

		got := Bump(v, tier)
		for i, d := range got.Digits() {
			if d < 0 || d > 9 {
				t.Fatalf("digit %d out of range: %d", i, d)
			}
		}
		if p := got.Precision(); p < 1 || p > Width {
			t.Fatalf("precision out of range: %d", p)
		}
		if back := Parse(got.String()); back.String() != got.String() {
			t.Fatalf("render round trip: %s -> %s", got, back)
		}
	})
}

func TestProperty_BumpIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genVersion().Draw(t, "v")
		tier := rapid.SampledFrom(Tiers).Draw(t, "tier")

		got := Bump(v, tier)
		if tier == TierFeat && v.Digit(1) == 9 {
			if !Equal(got, v) {
				t.Fatalf("saturated feat changed %s to %s", v, got)
			}
			return
		}
		if Compare(got, v) <= 0 {
			t.Fatalf("bump %s of %s did not increase: %s", tier, v, got)
		}
	})
}

func TestProperty_ChainIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tiers := rapid.SliceOfN(rapid.SampledFrom(Tiers), 0, 64).Draw(t, "tiers")

		fold := func() Version {
			v := Parse("0.0")
			for _, tier := range tiers {
				v = Bump(v, tier)
			}
			return v
		}

		a, b := fold(), fold()
		if !Equal(a, b) {
			t.Fatalf("same chain produced %s and %s", a, b)
		}
	})
}
