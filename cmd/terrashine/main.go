// Command terrashine runs the Terraform/OpenTofu provider network mirror.
package main

import (
	"github.com/tfproviders/provider-mirror/cmd"
)

func main() {
	cmd.Execute()
}
