package main

import (
	"chromascope/cmd"
)

func main() {
	cmd.Execute()
}
