package main

import (
	"ipoclerk/cmd/ipoclerk/commands"
	"ipoclerk/lib/cliutil"
)

func main() {
	commands.ExecuteContext(cliutil.SignalContext())
}
