package main

import "github.com/i474232898/home-env-monitor/cmd/home-env-monitor/commands"

func main() {
	commands.Execute()
}
