package main

import (
	"os"

	"github.com/modelguard/modelguard/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}
