// Command antoracheck validates the links in a rendered documentation
// site.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/coolbeans/antoracheck/pkg/config"
	"github.com/coolbeans/antoracheck/pkg/linkcheck"
	"github.com/coolbeans/antoracheck/pkg/resolve"
	"github.com/coolbeans/antoracheck/pkg/source"
	"github.com/spf13/cobra"
)

var (
	configPath string
	siteDir    string
	baseURL    string
	sourceRoot string
	reportPath string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "antoracheck",
		Short:   "Validate links in a rendered documentation site",
		Long:    "antoracheck crawls a rendered documentation site and validates every outbound and in-site link it finds, applying per-group rate limits, retries, and fragment checks.",
		Version: "0.1.0",
	}
	root.AddCommand(checkCmd())
	return root
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Crawl a rendered site directory and validate its links",
		RunE:  runCheck,
	}
	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a link-check YAML config (optional)")
	flags.StringVar(&siteDir, "site-dir", "", "directory containing the rendered HTML site (required)")
	flags.StringVar(&baseURL, "base-url", "", "the site's published base URL, used to resolve relative links (required)")
	flags.StringVar(&sourceRoot, "source-root", "", "directory containing the AsciiDoc sources the site was built from (optional, needed for the config's excludeEditThisPage option)")
	flags.StringVar(&reportPath, "report", "", "write a validation report to this path in addition to stdout (optional)")
	_ = cmd.MarkFlagRequired("site-dir")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	linkSource := source.NewDirectorySource(siteDir, baseURL)

	var resolver linkcheck.ResourceResolver
	if sourceRoot != "" {
		resolver = resolve.NewSiteResolver(baseURL, sourceRoot)
	}

	httpClient := linkcheck.NewDefaultHTTPClient(nil)

	stream, err := config.BuildStream(cfg, linkSource, resolver, httpClient)
	if err != nil {
		return fmt.Errorf("building validation pipeline: %w", err)
	}
	stream = stream.Log()

	errs, err := stream.Validate(cmd.Context())
	if err != nil {
		return fmt.Errorf("running link validation: %w", err)
	}

	results := errs.ToList()
	fmt.Printf("Checked site %q: %d broken link(s) found\n", siteDir, len(results))

	var report strings.Builder
	fmt.Fprintf(&report, "# Link check report for %s\n\n", siteDir)
	fmt.Fprintf(&report, "%d broken link(s) found.\n\n", len(results))
	for _, result := range results {
		line := formatResultLine(result)
		fmt.Println(line)
		fmt.Fprintln(&report, "- "+line)
	}

	if reportPath != "" {
		if err := os.WriteFile(reportPath, []byte(report.String()), 0o644); err != nil {
			return fmt.Errorf("writing report to %s: %w", reportPath, err)
		}
	}

	if len(results) > 0 {
		return fmt.Errorf("link validation found %d error(s)", len(results))
	}
	return nil
}

func formatResultLine(result linkcheck.ValidationResult) string {
	link := result.Link()
	location := ""
	if link.SourceFile() != "" {
		location = fmt.Sprintf("  (from %s:%d)", link.SourceFile(), link.SourceLine())
	}
	return fmt.Sprintf("%s  [%d]  %s%s", link.ResolvedURI(), result.StatusCode(), result.Message(), location)
}
