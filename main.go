// docfold is the intelligent document processing platform binary. It
// hosts both the intake API server and the stage workers; see the cli
// package for the command tree.
package main

import "github.com/docfold/docfold/cli"

func main() {
	cli.Execute()
}
