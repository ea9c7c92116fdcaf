// Command spdash serves and reports on SharePoint inventory CSV exports.
package main

import (
	"context"
	"os"

	"github.com/siteinventory/spdash/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
