package market

import "testing"

func TestBarValid(t *testing.T) {
	cases := []struct {
		desc string
		bar  Bar
		want bool
	}{
		{"ordinary bar", Bar{Open: 10, High: 12, Low: 9, Close: 11}, true},
		{"high below open", Bar{Open: 10, High: 9.5, Low: 8, Close: 9}, false},
		{"high below close", Bar{Open: 10, High: 10.5, Low: 9, Close: 11}, false},
		{"low above open", Bar{Open: 10, High: 12, Low: 10.5, Close: 11}, false},
		{"low above close", Bar{Open: 10, High: 12, Low: 9.5, Close: 9}, false},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := tc.bar.Valid(); got != tc.want {
				t.Fatalf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeatureMapGetAndHas(t *testing.T) {
	fm := FeatureMap{Values: map[string]float64{FeatureRSI14: 55.5}}

	v, ok := fm.Get(FeatureRSI14)
	if !ok || v != 55.5 {
		t.Fatalf("Get(RSI14) = %v, %v", v, ok)
	}

	if _, ok := fm.Get(FeatureADX14); ok {
		t.Fatal("expected ADX14 to be absent")
	}

	if !fm.Has(FeatureRSI14) {
		t.Fatal("expected Has(RSI14) to be true")
	}
	if fm.Has(FeatureRSI14, FeatureADX14) {
		t.Fatal("expected Has to fail when one feature is missing")
	}
}

func TestRuleAllowsRegime(t *testing.T) {
	r := Rule{AllowedRegimes: []Direction{DirBull, DirRange}}

	if !r.AllowsRegime(DirBull) {
		t.Fatal("expected BULL to be allowed")
	}
	if r.AllowsRegime(DirBear) {
		t.Fatal("expected BEAR to be disallowed")
	}
}
