package main

import (
	"github.com/fanoutsh/fanout/internal/cli/cmd"
)

func main() {
	cmd.Execute()
}
