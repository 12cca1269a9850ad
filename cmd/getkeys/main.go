package main

import "github.com/dmitrymomot/gigkeys/internal/cli"

func main() {
	cli.Execute()
}
