package main

import "paxoslog/cmd"

func main() {
	cmd.Execute()
}
