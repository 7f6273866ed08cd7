package main

import "runserver/cmd/cli/command"

func main() {
	command.Execute()
}
