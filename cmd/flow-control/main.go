package main

import "github.com/LENAX/flow-control/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
