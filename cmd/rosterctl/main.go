// Command rosterctl browses and edits the course roster of the admin API
// through the query cache. It also serves an in-memory admin API for local
// development.
package main

import (
	"errors"
	"fmt"
	"os"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-query-cache/cache"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode maps bad input and missing records to exitUserError.
func exitCode(err error) int {
	var invalid *cache.InvalidParamError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &invalid),
		goerrors.IsNotFound(err),
		goerrors.IsValidation(err),
		goerrors.IsCategory(err, goerrors.CategoryBadInput),
		goerrors.IsCategory(err, goerrors.CategoryConflict):
		return exitUserError
	}
	return exitSysError
}
