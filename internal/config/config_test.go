package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\ntimeout: 3s\nswap:\n  timeout_seconds: 120\n  slippage: 1.5\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DEXSWAP_OUTPUT", "json")
	t.Setenv("DEXSWAP_TIMEOUT", "4s")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Timeout: "5s"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Timeout != 5*time.Second {
		t.Fatalf("expected timeout from flags, got %s", settings.Timeout)
	}
	if settings.SessionTTL != 120*time.Second {
		t.Fatalf("expected session ttl from file, got %s", settings.SessionTTL)
	}
	if settings.SlippageBps != 150 {
		t.Fatalf("expected 150 bps from file, got %d", settings.SlippageBps)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true, ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestSwapSettingsFallBackToDefaults(t *testing.T) {
	t.Setenv("DEXSWAP_SWAP_TIMEOUT_SECONDS", "0")
	t.Setenv("DEXSWAP_SWAP_SLIPPAGE", "-1")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.SessionTTL != 300*time.Second {
		t.Fatalf("expected default session ttl, got %s", settings.SessionTTL)
	}
	if settings.SlippageBps != 50 {
		t.Fatalf("expected default slippage, got %d", settings.SlippageBps)
	}

	if got := SessionTTLFromSeconds("abc"); got != 300*time.Second {
		t.Fatalf("expected default for garbage, got %s", got)
	}
	if got := SessionTTLFromSeconds("1"); got != time.Second {
		t.Fatalf("expected minimum to be accepted, got %s", got)
	}
	if got := slippageFromString("NaN"); got != 50 {
		t.Fatalf("expected default for NaN, got %d", got)
	}
}

func TestProviderSettingsFromEnvAndFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "providers:\n  1inch:\n    api_key_env: MY_1INCH_KEY\n  paraswap:\n    base_url: http://127.0.0.1:9000/\nswap:\n  explorers:\n    Base: https://base.blockscout.com/tx/\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MY_1INCH_KEY", "from-file-env")
	t.Setenv("DEXSWAP_ZEROX_API_KEY", "zx-key")
	t.Setenv("DEXSWAP_EXPLORER_SOLANA", "https://explorer.solana.com/tx/")
	t.Setenv("DEXSWAP_TELEGRAM_BOT_TOKEN", "bot-token")

	settings, err := Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OneInchAPIKey != "from-file-env" || settings.ZeroXAPIKey != "zx-key" {
		t.Fatalf("unexpected api keys: 1inch=%q 0x=%q", settings.OneInchAPIKey, settings.ZeroXAPIKey)
	}
	if settings.BaseURLs["paraswap"] != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected base url override: %v", settings.BaseURLs)
	}
	if settings.Explorers["base"] != "https://base.blockscout.com/tx/" || settings.Explorers["solana"] != "https://explorer.solana.com/tx/" {
		t.Fatalf("unexpected explorers: %v", settings.Explorers)
	}
	if settings.TelegramBotToken != "bot-token" {
		t.Fatalf("expected telegram token from env")
	}
}

func TestRejectsInsecureBaseURL(t *testing.T) {
	t.Setenv("DEXSWAP_ODOS_BASE_URL", "http://odos.example.com")
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected non-loopback http base url to be rejected")
	}
}

func TestBindFlags(t *testing.T) {
	var flags GlobalFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &flags)
	if err := fs.Parse([]string{"--plain", "--strict", "--timeout", "2s", "--log-level", "debug"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Plain || !flags.Strict || flags.Timeout != "2s" || flags.LogLevel != "debug" {
		t.Fatalf("unexpected flags: %+v", flags)
	}
}
