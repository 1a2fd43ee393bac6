package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if !strings.HasSuffix(cfg.CloudflareAPIURL, "/client/v4") {
		t.Fatalf("cloudflare url = %s, want the versioned /client/v4 base", cfg.CloudflareAPIURL)
	}
	if cfg.PayPalEnvironment != "sandbox" {
		t.Fatalf("paypal environment = %s, want sandbox", cfg.PayPalEnvironment)
	}
	if cfg.HostingAnycastIP == "" {
		t.Fatal("anycast ip default missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLOUDFLARE_API_URL", "http://127.0.0.1:9000/client/v4")
	t.Setenv("PAYPAL_API_URL", "http://127.0.0.1:9001")

	cfg := Load()
	if cfg.CloudflareAPIURL != "http://127.0.0.1:9000/client/v4" {
		t.Fatalf("cloudflare url = %s", cfg.CloudflareAPIURL)
	}
	if cfg.PayPalAPIURL != "http://127.0.0.1:9001" {
		t.Fatalf("paypal url = %s", cfg.PayPalAPIURL)
	}
}
