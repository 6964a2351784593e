package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"sol-portfolio-agent/internal/ledger"
)

// Recomputes commitment hashes from an exported JSON file and reports
// any trace whose recorded hash no longer matches its content.
func main() {
	file := flag.String("file", "", "path to exported commitments JSON (array or single object)")
	quiet := flag.Bool("quiet", false, "print only failures")
	flag.Parse()

	if *file == "" {
		fatal(fmt.Errorf("-file is required"))
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		fatal(err)
	}

	var commitments []ledger.Commitment
	if err := json.Unmarshal(raw, &commitments); err != nil {
		var single ledger.Commitment
		if err := json.Unmarshal(raw, &single); err != nil {
			fatal(fmt.Errorf("parse %s: %w", *file, err))
		}
		commitments = []ledger.Commitment{single}
	}

	failures := 0
	for _, c := range commitments {
		if ledger.Verify(c.Hash, c.Trace) {
			if !*quiet {
				fmt.Printf("ok   seq=%d kind=%s cycle=%d hash=%s\n", c.Seq, c.Trace.Kind, c.Trace.Cycle, c.Hash)
			}
			continue
		}
		failures++
		fmt.Printf("FAIL seq=%d kind=%s cycle=%d hash=%s\n", c.Seq, c.Trace.Kind, c.Trace.Cycle, c.Hash)
	}
	fmt.Printf("%d commitment(s) checked, %d failure(s)\n", len(commitments), failures)
	if failures > 0 {
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify: %v\n", err)
	os.Exit(1)
}
