package main

import "github.com/sergev/tapedecode/cmd"

func main() {
	cmd.Execute()
}
