package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/config"
)

const (
	sentinelStart = "# codeindex:start"
	sentinelEnd   = "# codeindex:end"
)

func newInitCmd(a *app) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and ignore the data directory",
		Long: `Write .codeindex.yaml with the default settings and add the data
directory to .gitignore. The .gitignore entry is wrapped in sentinel
comments so later runs update it in place without touching surrounding
content. An existing config is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}

			cfgPath := filepath.Join(a.root, config.FileName+".yaml")
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(cfgPath)
			writeCfg := force || os.IsNotExist(statErr)

			ignorePath := filepath.Join(a.root, ".gitignore")
			existing, _ := os.ReadFile(ignorePath)
			updated := applySection(string(existing), ignoreSection(a.cfg.DataDir))

			if dryRun {
				if writeCfg {
					a.printf("--- %s\n%s", cfgPath, data)
				}
				a.printf("--- %s\n%s", ignorePath, updated)
				return nil
			}

			if writeCfg {
				if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", cfgPath, err)
				}
				a.printf("wrote %s\n", cfgPath)
			} else {
				a.printf("kept existing %s\n", cfgPath)
			}
			if err := os.WriteFile(ignorePath, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", ignorePath, err)
			}
			a.printf("updated %s\n", ignorePath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying files")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// ignoreSection returns the sentinel-wrapped .gitignore block for dataDir.
// Absolute data directories live outside the tree and need no entry.
func ignoreSection(dataDir string) string {
	body := "# codeindex cache and index database"
	if !filepath.IsAbs(dataDir) {
		body += "\n/" + strings.TrimSuffix(filepath.ToSlash(filepath.Clean(dataDir)), "/") + "/"
	}
	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}
