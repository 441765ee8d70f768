package main

import "github.com/micdrop/pitchcoach/cmd"

func main() {
	cmd.Execute()
}
