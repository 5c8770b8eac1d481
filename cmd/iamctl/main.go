package main

import (
	"os"

	"github.com/odyssey-erp/odyssey-iam/cmd/iamctl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
