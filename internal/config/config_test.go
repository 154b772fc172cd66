package config

import (
	"testing"

	"quantengine/internal/money"
)

func TestSplitCSVTrimsAndDropsEmpties(t *testing.T) {
	got := splitCSV("SOL_USDC_PERP, BTC_USDC_PERP ,, ETH_USDC_PERP")
	want := []string{"SOL_USDC_PERP", "BTC_USDC_PERP", "ETH_USDC_PERP"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestGetenvIntFallsBackOnMissingOrMalformed(t *testing.T) {
	if v := getenvInt("QE_TEST_MISSING_INT", 42); v != 42 {
		t.Fatalf("getenvInt = %d, want default 42", v)
	}
	t.Setenv("QE_TEST_INT", "not-a-number")
	if v := getenvInt("QE_TEST_INT", 42); v != 42 {
		t.Fatalf("getenvInt = %d, want default 42 on malformed input", v)
	}
	t.Setenv("QE_TEST_INT", "7")
	if v := getenvInt("QE_TEST_INT", 42); v != 7 {
		t.Fatalf("getenvInt = %d, want 7", v)
	}
}

func TestGetenvFloatFallsBackOnMissingOrMalformed(t *testing.T) {
	if v := getenvFloat("QE_TEST_MISSING_FLOAT", 1.5); v != 1.5 {
		t.Fatalf("getenvFloat = %v, want default 1.5", v)
	}
	t.Setenv("QE_TEST_FLOAT", "nope")
	if v := getenvFloat("QE_TEST_FLOAT", 1.5); v != 1.5 {
		t.Fatalf("getenvFloat = %v, want default 1.5 on malformed input", v)
	}
	t.Setenv("QE_TEST_FLOAT", "2.25")
	if v := getenvFloat("QE_TEST_FLOAT", 1.5); v != 2.25 {
		t.Fatalf("getenvFloat = %v, want 2.25", v)
	}
}

func TestGetenvBoolFallsBackOnMissingOrMalformed(t *testing.T) {
	if v := getenvBool("QE_TEST_MISSING_BOOL", true); v != true {
		t.Fatalf("getenvBool = %v, want default true", v)
	}
	t.Setenv("QE_TEST_BOOL", "maybe")
	if v := getenvBool("QE_TEST_BOOL", true); v != true {
		t.Fatalf("getenvBool = %v, want default true on malformed input", v)
	}
	t.Setenv("QE_TEST_BOOL", "false")
	if v := getenvBool("QE_TEST_BOOL", true); v != false {
		t.Fatalf("getenvBool = %v, want false", v)
	}
}

func TestGetenvDecimalFallsBackOnMissingOrMalformed(t *testing.T) {
	if v := getenvDecimal("QE_TEST_MISSING_DEC", "10"); !v.Equal(money.FromFloat(10)) {
		t.Fatalf("getenvDecimal = %s, want default 10", v)
	}
	t.Setenv("QE_TEST_DEC", "not-a-decimal")
	if v := getenvDecimal("QE_TEST_DEC", "10"); !v.Equal(money.FromFloat(10)) {
		t.Fatalf("getenvDecimal = %s, want default 10 on malformed input", v)
	}
	t.Setenv("QE_TEST_DEC", "3.5")
	if v := getenvDecimal("QE_TEST_DEC", "10"); !v.Equal(money.FromFloat(3.5)) {
		t.Fatalf("getenvDecimal = %s, want 3.5", v)
	}
}

func TestLoadRequiresVenueCredentialsOutsideDryRun(t *testing.T) {
	t.Setenv("ENVIRONMENT", "LIVE")
	t.Setenv("VENUE_API_KEY", "")
	t.Setenv("VENUE_PRIVATE_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected Load to require venue credentials outside DRY_RUN")
	}
}

func TestLoadDryRunNeedsNoCredentials(t *testing.T) {
	t.Setenv("ENVIRONMENT", "DRY_RUN")
	t.Setenv("VENUE_API_KEY", "")
	t.Setenv("VENUE_PRIVATE_KEY", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsDryRun() {
		t.Fatal("expected IsDryRun() to be true for ENVIRONMENT=DRY_RUN")
	}
}

func TestLoadParsesInstrumentsList(t *testing.T) {
	t.Setenv("ENVIRONMENT", "DRY_RUN")
	t.Setenv("INSTRUMENTS", "SOL_USDC_PERP,BTC_USDC_PERP")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Instruments) != 2 || cfg.Instruments[0] != "SOL_USDC_PERP" || cfg.Instruments[1] != "BTC_USDC_PERP" {
		t.Fatalf("Instruments = %v", cfg.Instruments)
	}
}
