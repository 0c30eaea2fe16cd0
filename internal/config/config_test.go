package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	RegisterFlags(cmd)
	cmd.SetArgs(args)
	_ = cmd.Execute()
	return cmd
}

func TestLoadRequiresBaseURL(t *testing.T) {
	if _, err := Load(newTestCmd()); err == nil {
		t.Error("expected error without a base URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newTestCmd("--base-url", "https://shop.example"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerCount != DefaultWorkerCount {
		t.Errorf("workers = %d, want default %d", cfg.WorkerCount, DefaultWorkerCount)
	}
	if sum := cfg.Weights.Sum(); math.Abs(sum-1.0) > 0.001 {
		t.Errorf("default weights sum = %v, want 1.0", sum)
	}
	if cfg.Intervals.Base != DefaultBaseInterval {
		t.Errorf("base interval = %v, want %v", cfg.Intervals.Base, DefaultBaseInterval)
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load(newTestCmd(
		"--base-url", "https://shop.example",
		"--workers", "8",
		"--force-update",
		"--verbose",
	))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("workers = %d, want 8", cfg.WorkerCount)
	}
	if !cfg.ForceUpdate {
		t.Error("force-update flag ignored")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestYAMLFileLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealhound.yaml")
	content := "base_url: https://shop.example\nworker_count: 12\nweights:\n  price: 0.4\n  time: 0.2\n  popularity: 0.2\n  discount: 0.1\n  jitter: 0.1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(newTestCmd("--config", path))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerCount != 12 {
		t.Errorf("workers = %d, want 12 from file", cfg.WorkerCount)
	}
	if cfg.Weights.Price != 0.4 {
		t.Errorf("price weight = %v, want 0.4 from file", cfg.Weights.Price)
	}
}

func TestFlagBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealhound.yaml")
	if err := os.WriteFile(path, []byte("base_url: https://shop.example\nworker_count: 12\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(newTestCmd("--config", path, "--workers", "3"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("workers = %d, want flag value 3", cfg.WorkerCount)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEALHOUND_BASE_URL", "https://env.example")
	cfg, err := Load(newTestCmd())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "https://env.example" {
		t.Errorf("base URL = %q, want env value", cfg.BaseURL)
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealhound.yaml")
	content := "base_url: https://shop.example\nweights:\n  price: 0.9\n  time: 0.9\n  popularity: 0.1\n  discount: 0.1\n  jitter: 0.1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(newTestCmd("--config", path)); err == nil {
		t.Error("expected error for weights not summing to 1")
	}
}
