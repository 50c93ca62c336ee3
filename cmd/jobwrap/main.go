package main

import (
	"os"

	"github.com/birrulwldain/jobwrap/cmd/jobwrap/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
