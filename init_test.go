package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runInitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--root", dir, "init"}, args...)
	if err := run(context.Background(), full, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v\nstderr: %s", err, stderr.String())
	}
	return stdout.String()
}

// TestApplySectionCreate verifies that applySection on empty content yields
// just the section with a trailing newline.
func TestApplySectionCreate(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nbody\n" + sentinelEnd
	got := applySection("", section)
	if got != section+"\n" {
		t.Errorf("unexpected content:\n%q", got)
	}
}

// TestApplySectionAppend verifies that existing content without a sentinel
// block is preserved and the section is appended after a blank line.
func TestApplySectionAppend(t *testing.T) {
	t.Parallel()
	existing := "node_modules/\n*.log"
	section := sentinelStart + "\n/.codeindex/\n" + sentinelEnd
	got := applySection(existing, section)

	if !strings.HasPrefix(got, existing+"\n\n") {
		t.Errorf("existing content should be preserved at start:\n%s", got)
	}
	if !strings.HasSuffix(got, sentinelEnd+"\n") {
		t.Errorf("section should be appended:\n%s", got)
	}
}

// TestApplySectionUpdate verifies that an existing sentinel block is replaced
// precisely, leaving surrounding content intact.
func TestApplySectionUpdate(t *testing.T) {
	t.Parallel()
	before := "dist/\n\n"
	after := "\n\n*.tmp\n"
	old := before + sentinelStart + "\n/old/\n" + sentinelEnd + after

	got := applySection(old, sentinelStart+"\n/new/\n"+sentinelEnd)

	if !strings.HasPrefix(got, before) {
		t.Errorf("content before sentinel should be preserved:\n%s", got)
	}
	if !strings.HasSuffix(got, after) {
		t.Errorf("content after sentinel should be preserved:\n%s", got)
	}
	if strings.Contains(got, "/old/") {
		t.Error("old content should be replaced")
	}
}

func TestIgnoreSection(t *testing.T) {
	t.Parallel()
	if got := ignoreSection(".cache/codeindex/"); !strings.Contains(got, "\n/.cache/codeindex/\n") {
		t.Errorf("relative data dir entry missing:\n%s", got)
	}
	if got := ignoreSection("/var/lib/codeindex"); strings.Contains(got, "/var/lib") {
		t.Errorf("absolute data dir should not be listed:\n%s", got)
	}
}

// TestInitWritesConfigAndGitignore verifies that init creates both files and
// that the written config loads back.
func TestInitWritesConfigAndGitignore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("dist/\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runInitIn(t, dir)

	cfg, err := os.ReadFile(filepath.Join(dir, ".codeindex.yaml"))
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if !strings.Contains(string(cfg), "token_budget: 1024") {
		t.Errorf("config missing defaults:\n%s", cfg)
	}

	ignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(ignore)
	if !strings.HasPrefix(content, "dist/\n") {
		t.Error("existing .gitignore content lost")
	}
	if !strings.Contains(content, "/.codeindex/") {
		t.Errorf("data dir not ignored:\n%s", content)
	}

	// The written config must be valid input for the next command.
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--root", dir, "build"}, &stdout, &stderr); err != nil {
		t.Fatalf("build after init: %v", err)
	}
}

// TestInitDryRun verifies that --dry-run prints what would be written and
// touches nothing.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	out := runInitIn(t, dir, "--dry-run")

	if _, err := os.Stat(filepath.Join(dir, ".codeindex.yaml")); err == nil {
		t.Error("--dry-run should not create the config")
	}
	if _, err := os.Stat(filepath.Join(dir, ".gitignore")); err == nil {
		t.Error("--dry-run should not create .gitignore")
	}
	if !strings.Contains(out, "data_dir: .codeindex") {
		t.Error("dry-run output missing config")
	}
	if !strings.Contains(out, sentinelStart) {
		t.Error("dry-run output missing sentinel start")
	}
}

// TestInitKeepsExistingConfig verifies that an existing config survives
// unless --force is given.
func TestInitKeepsExistingConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".codeindex.yaml")
	custom := "render:\n  token_budget: 4096\n"
	if err := os.WriteFile(cfgPath, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	out := runInitIn(t, dir)
	if !strings.Contains(out, "kept existing") {
		t.Errorf("unexpected output: %s", out)
	}
	data, _ := os.ReadFile(cfgPath)
	if string(data) != custom {
		t.Error("config overwritten without --force")
	}

	runInitIn(t, dir, "--force")
	data, _ = os.ReadFile(cfgPath)
	// --force writes the effective config, which includes the custom value.
	if !strings.Contains(string(data), "token_budget: 4096") || !strings.Contains(string(data), "damping: 0.85") {
		t.Errorf("--force should write the full effective config:\n%s", data)
	}
}

// TestInitIdempotent verifies that running init twice leaves .gitignore
// unchanged the second time.
func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	runInitIn(t, dir)
	first, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
	runInitIn(t, dir)
	second, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))

	if string(first) != string(second) {
		t.Errorf("init is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
