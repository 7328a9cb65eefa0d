package main

import (
	"os"

	"github.com/eargollo/dupecat/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
