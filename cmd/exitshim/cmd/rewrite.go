package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/exitshim/internal/rewrite"
	"github.com/psantana5/exitshim/pkg/logging"
)

var rewriteCfg rewrite.Config

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <src> <dst>",
	Short: "Rewrite a Go command into a fuzzable entry point",
	Long: `Rewrite turns a main package into an importable package:

  - func main is renamed (--entry-name, default Main)
  - package main becomes --package (default target)
  - os.Exit calls become redirect.Exit, which runs redirect.AtExit hooks
  - syscall.Exit and unix.Exit calls become redirect.ImmediateExit

src and dst are either two directories or two .go files. With --register
the rewritten directory also gets an init file registering the entry point
so "exitshim run --entry NAME" can drive it once linked in.

Example:
  exitshim rewrite ./cmd/tool ./fuzz/tool --register tool
  exitshim rewrite main.go fuzz/main.go --entry-name RunTool`,
	Args: cobra.ExactArgs(2),
	RunE: runRewrite,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)

	rewriteCmd.Flags().StringVar(&rewriteCfg.EntryName, "entry-name", "Main", "new name for func main")
	rewriteCmd.Flags().StringVar(&rewriteCfg.Package, "package", "target", "package name replacing main")
	rewriteCmd.Flags().StringVar(&rewriteCfg.RedirectImport, "redirect-import", rewrite.DefaultRedirectImport, "import path of the redirect package")
	rewriteCmd.Flags().StringVar(&rewriteCfg.RegisterAs, "register", "", "register the entry point under this name")
	rewriteCmd.Flags().BoolVar(&rewriteCfg.KeepTests, "keep-tests", false, "rewrite and copy _test.go files")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, "rewrite")
	if err != nil {
		return err
	}
	defer logger.Close()

	src, dst := args[0], args[1]
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	var report *rewrite.Report
	if info.IsDir() {
		report, err = rewrite.Dir(cmd.Context(), src, dst, rewriteCfg)
		if err != nil {
			return err
		}
	} else {
		report, err = rewriteFile(src, dst)
		if err != nil {
			return err
		}
	}

	logger.Info("rewrite complete", logging.Fields{
		"src":             src,
		"dst":             dst,
		"files":           len(report.Files),
		"normal_exits":    report.Total.NormalExits,
		"immediate_exits": report.Total.ImmediateExits,
	})
	return writeRewriteReport(cmd.OutOrStdout(), report)
}

func rewriteFile(src, dst string) (*rewrite.Report, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	out, stats, err := rewrite.Source(src, data, rewriteCfg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(dst, out, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", dst, err)
	}

	report := &rewrite.Report{
		Package: rewriteCfg.Package,
		Files:   []rewrite.FileReport{{Name: src, Stats: stats}},
		Total:   stats,
	}
	if stats.EntryRenamed {
		report.Entry = rewriteCfg.EntryName
	}
	return report, nil
}

func writeRewriteReport(w io.Writer, report *rewrite.Report) error {
	switch {
	case IsJSONOutput():
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case IsYAMLOutput():
		return yaml.NewEncoder(w).Encode(report)
	}

	table := tablewriter.NewWriter(w)
	table.Header("File", "Entry", "os.Exit", "syscall.Exit")
	for _, f := range report.Files {
		entry := ""
		if f.Stats.EntryRenamed {
			entry = report.Entry
		}
		if err := table.Append(f.Name, entry, strconv.Itoa(f.Stats.NormalExits), strconv.Itoa(f.Stats.ImmediateExits)); err != nil {
			return err
		}
	}
	return table.Render()
}
