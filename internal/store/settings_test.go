package store

import (
	"errors"
	"testing"
)

func testSettings(t *testing.T) *Settings {
	t.Helper()
	st, err := testStore(t).Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	return st
}

func TestSettings_Defaults(t *testing.T) {
	st := testSettings(t)

	if got := st.Get("default_voice"); got != "af_heart" {
		t.Fatalf("expected seeded default voice, got %q", got)
	}
	if got := st.GetInt("auto_scan_interval", 0); got != 300 {
		t.Fatalf("expected seeded scan interval 300, got %d", got)
	}
	if st.GetBool("auto_convert") {
		t.Fatal("auto_convert should default to false")
	}
}

func TestSettings_SetAndGet(t *testing.T) {
	st := testSettings(t)

	if err := st.Set("default_voice", "am_adam"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := st.Get("default_voice"); got != "am_adam" {
		t.Fatalf("expected am_adam, got %q", got)
	}

	// Overwrite works.
	if err := st.Set("default_voice", "bf_emma"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := st.Get("default_voice"); got != "bf_emma" {
		t.Fatalf("expected bf_emma, got %q", got)
	}
}

func TestSettings_UnknownKey(t *testing.T) {
	st := testSettings(t)

	err := st.Set("nonsense_key", "value")
	if !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting, got %v", err)
	}
	if Known("nonsense_key") {
		t.Fatal("Known should reject unknown keys")
	}
	if !Known("webhook_url") {
		t.Fatal("Known should accept webhook_url")
	}
}

func TestSettings_GetIntFallback(t *testing.T) {
	st := testSettings(t)

	if err := st.Set("delay_between_books", "not a number"); err != nil {
		t.Fatal(err)
	}
	if got := st.GetInt("delay_between_books", 15); got != 15 {
		t.Fatalf("expected fallback 15, got %d", got)
	}
}

func TestSettings_All(t *testing.T) {
	st := testSettings(t)

	if err := st.Set("webhook_url", "http://example.com/hook"); err != nil {
		t.Fatal(err)
	}

	all := st.All()
	if len(all) != len(settingsDefaults) {
		t.Fatalf("expected %d settings, got %d", len(settingsDefaults), len(all))
	}
	if all["webhook_url"] != "http://example.com/hook" {
		t.Fatalf("unexpected webhook_url %q", all["webhook_url"])
	}
	if all["auto_convert"] != "false" {
		t.Fatalf("unexpected auto_convert %q", all["auto_convert"])
	}
}
