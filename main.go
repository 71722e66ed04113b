package main

import "github.com/416inputs/buildtool/cmd"

func main() {
	cmd.Execute()
}
