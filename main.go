package main

import "github.com/BioHazard786/codedrop/cmd"

func main() {
	cmd.Execute()
}
