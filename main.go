package main

import "rename-fusion/cmd"

func main() {
	cmd.Execute()
}
