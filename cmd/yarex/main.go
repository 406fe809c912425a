// Command yarex compiles detection rules and scans files against them.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sansecio/yarex/scanner"
	"github.com/sansecio/yarex/vm"
)

var (
	jsonOutput  bool
	timeout     time.Duration
	stepBudget  int
	externalKVs []string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:           "yarex",
		Short:         "Compile and evaluate detection rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.SetOutput(os.Stderr)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	scanCmd := &cobra.Command{
		Use:   "scan <rules.yar> <path>",
		Short: "Scan a file or directory tree against a ruleset",
		Args:  cobra.ExactArgs(2),
		RunE:  runScan,
	}
	scanCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit matches as JSON")
	scanCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-file scan timeout")
	scanCmd.Flags().IntVar(&stepBudget, "step-budget", 0, "per-rule VM step budget (0 for default)")
	scanCmd.Flags().StringArrayVarP(&externalKVs, "define", "d", nil, "external variable as name=value")

	checkCmd := &cobra.Command{
		Use:   "check <rules.yar>",
		Short: "Compile a ruleset and report errors",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	root.AddCommand(scanCmd, checkCmd)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func compileFile(path string) (*scanner.Rules, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return scanner.Compile(string(src))
}

func runCheck(_ *cobra.Command, args []string) error {
	rules, err := compileFile(args[0])
	if err != nil {
		return err
	}
	nRules, nPatterns := rules.Stats()
	log.WithFields(log.Fields{"rules": nRules, "patterns": nPatterns}).Info("ruleset compiled")
	return nil
}

type fileResult struct {
	Path    string        `json:"path"`
	Matches []matchResult `json:"matches"`
}

type matchResult struct {
	Rule    string   `json:"rule"`
	Tags    []string `json:"tags,omitempty"`
	Strings []string `json:"strings,omitempty"`
}

func runScan(_ *cobra.Command, args []string) error {
	rules, err := compileFile(args[0])
	if err != nil {
		return err
	}
	nRules, nPatterns := rules.Stats()
	log.WithFields(log.Fields{"rules": nRules, "patterns": nPatterns}).Debug("ruleset compiled")

	externals, err := parseExternals(externalKVs)
	if err != nil {
		return err
	}

	var scanned, matched int
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)

	walkErr := filepath.WalkDir(args[1], func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).Warn("skipping entry")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		scanned++

		buf, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("read failed")
			return nil
		}

		opts := scanner.ScanOptions{
			Timeout:    timeout,
			Externals:  externals,
			StepBudget: stepBudget,
			OnFault: func(rule string, err error) {
				log.WithError(err).WithFields(log.Fields{"path": path, "rule": rule}).Warn("rule faulted")
			},
		}
		var matches scanner.MatchRules
		if err := rules.ScanMemWithOptions(buf, opts, &matches); err != nil {
			log.WithError(err).WithField("path", path).Warn("scan failed")
			return nil
		}
		if len(matches) == 0 {
			return nil
		}
		matched++

		if !jsonOutput {
			fmt.Println(path)
			return nil
		}
		res := fileResult{Path: path}
		for _, m := range matches {
			mr := matchResult{Rule: m.Rule, Tags: m.Tags}
			for _, s := range m.Strings {
				mr.Strings = append(mr.Strings, s.Name)
			}
			res.Matches = append(res.Matches, mr)
		}
		return enc.Encode(res)
	})
	if walkErr != nil {
		return walkErr
	}

	log.WithFields(log.Fields{"scanned": scanned, "matched": matched}).Info("scan complete")
	return nil
}

// parseExternals converts name=value flags to typed VM values. Values
// parse as bool, then integer, then fall back to string.
func parseExternals(kvs []string) (map[string]vm.Value, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]vm.Value, len(kvs))
	for _, kv := range kvs {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid external %q, want name=value", kv)
		}
		out[name] = typedValue(val)
	}
	return out, nil
}

func typedValue(s string) vm.Value {
	switch s {
	case "true":
		return vm.BoolVal(true)
	case "false":
		return vm.BoolVal(false)
	}
	var i int64
	if _, err := fmt.Sscanf(s, "%d", &i); err == nil && fmt.Sprintf("%d", i) == s {
		return vm.IntVal(i)
	}
	return vm.StringVal(s)
}
