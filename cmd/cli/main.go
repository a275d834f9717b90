package main

import "chatrelay/cmd/cli/command"

func main() {
	command.Execute()
}
