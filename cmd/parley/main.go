package main

import "github.com/felixgeelhaar/parley/cmd/parley/cli"

func main() {
	cli.Execute()
}
