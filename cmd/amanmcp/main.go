// Package main provides the entry point for the amanmcp CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanmcp/cmd/amanmcp/cmd"
	pcierrors "github.com/Aman-CERP/amanmcp/internal/errors"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and maps the result to a process exit code:
// 0 on success, 2 on a configuration/usage error, 1 on any other failure.
func run() int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	switch pcierrors.GetCategory(err) {
	case pcierrors.CategoryConfig, pcierrors.CategoryValidation:
		return 2
	default:
		return 1
	}
}
