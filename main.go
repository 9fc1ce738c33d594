package main

import "machine-monitor/cmd"

func main() {
	cmd.Execute()
}
