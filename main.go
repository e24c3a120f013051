package main

import (
	"fmt"
	"os"

	"github.com/ghyeongl/filecache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "filecache:", err)
		os.Exit(1)
	}
}
