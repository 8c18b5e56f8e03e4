package main

import "github.com/synthread/go-probeflash/cmd/probeflash/cmd"

func main() {
	cmd.Execute()
}
