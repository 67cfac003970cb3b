// tome is an automated long-form research agent: it plans a report outline,
// researches it section by section against live web sources, and compiles a
// cited markdown/HTML report.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
