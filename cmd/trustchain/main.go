// Command trustchain seals, validates and certifies run directories and
// produces drift, misuse and governance reports for human review.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

type command struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

func commands() []command {
	return []command{
		{"seal", "Write manifest, Merkle tree and report for a run directory", runSeal},
		{"validate", "Validate a ProofPack (--run)", runValidate},
		{"replay", "Compare two directories after line-ending normalization", runReplay},
		{"ci", "Run gates G0..G5 and write the CI report and badge", runCI},
		{"baseline", "Manage baselines (register | list | show)", runBaseline},
		{"certify", "Issue a certificate binding a run to a baseline", runCertify},
		{"drift", "Build a drift report from observations", runDrift},
		{"misuse", "Build a misuse report from observations", runMisuse},
		{"override", "Validate override events and build a governance report", runOverride},
		{"version-check", "Validate version contract events", runVersionCheck},
		{"incident", "Validate incidents, post-mortems and rollback plans", runIncident},
		{"regress", "Compare candidate test results against a baseline", runRegress},
		{"audit", "Verify or export the audit log (verify | export)", runAudit},
	}
}

// Run dispatches args[1] and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}
	for _, c := range commands() {
		if c.name == args[1] {
			return c.run(args[2:], stdout, stderr)
		}
	}
	_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "trustchain: non-actuating verification and governance")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  trustchain <command> [flags]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	for _, c := range commands() {
		_, _ = fmt.Fprintf(w, "  %-14s %s\n", c.name, c.summary)
	}
	_, _ = fmt.Fprintf(w, "  %-14s %s\n", "help", "Show this help")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "EXIT CODES:")
	_, _ = fmt.Fprintln(w, "  0 pass  1 fail  2 usage  3 baseline not found  4 io/structural  5 invariant")
}
