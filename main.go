package main

import "github.com/strand-protocol/wireprobe/cmd"

func main() {
	cmd.Execute()
}
