package main

import (
	"os"

	"github.com/joseph-ayodele/docs2md/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
