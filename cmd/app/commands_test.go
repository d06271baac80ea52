package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/starford/mnemo/internal/models"
)

// runCaptured runs a one-command app and returns what it wrote to stdout.
func runCaptured(t *testing.T, sub *cli.Command, args ...string) ([]byte, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	app := &cli.Command{
		Name:     "mnemo",
		Flags:    []cli.Flag{&cli.StringFlag{Name: "config"}},
		Commands: []*cli.Command{sub},
	}
	runErr := app.Run(context.Background(), append([]string{"mnemo"}, args...))
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return out, runErr
}

func TestFreshnessCommand_UnreadableConfigStillReports(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("sqlite: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCaptured(t, freshnessCommand(), "--config", cfgPath, "freshness", t.TempDir(), "demo")
	if err != nil {
		t.Fatalf("freshness exited with %v, want success", err)
	}
	var snap models.FreshnessSnapshot
	if err := json.Unmarshal(out, &snap); err != nil {
		t.Fatalf("stdout is not a snapshot: %v\n%s", err, out)
	}
	if snap.ProjectID != "demo" || snap.Recommendation != models.RecommendFull {
		t.Errorf("snapshot = %+v, want full for demo", snap)
	}
	if !slices.Contains(snap.Reasons, "configuration unreadable") {
		t.Errorf("reasons = %v", snap.Reasons)
	}
}

func TestFreshnessCommand_MissingArgs(t *testing.T) {
	_, err := runCaptured(t, freshnessCommand(), "freshness", "only-path")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Errorf("err = %v, want usage exit code 1", err)
	}
}
