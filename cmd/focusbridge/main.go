package main

import "github.com/chemonoworld/focusbridge/cmd/focusbridge/commands"

func main() {
	commands.Execute()
}
