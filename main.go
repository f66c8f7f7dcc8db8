package main

import "github.com/timvw/pane-conductor/cmd"

func main() {
	cmd.Execute()
}
