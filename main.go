package main

import "github.com/nextlevelbuilder/brainstorm/cmd"

func main() {
	cmd.Execute()
}
