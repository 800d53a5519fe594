package main

import (
	"fmt"
	"os"

	"accrualsync/cmd/accrualsync/commands"
)

func main() {
	code, err := commands.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(code)
}
