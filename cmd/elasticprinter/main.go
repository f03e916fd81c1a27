// Command elasticprinter is a CUPS backend that converts print jobs to PDF
// and indexes them in Elasticsearch.
//
// CUPS invokes it as:
//
//	elasticprinter job-id user title copies options [file]
//
// With no file argument the print stream is read from stdin.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
