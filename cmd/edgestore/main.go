package main

import (
	"github.com/edgestore/edgestore/internal/cli"
)

func main() {
	cli.Execute()
}
