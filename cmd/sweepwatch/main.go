package main

import "github.com/vietddude/sweepwatch/internal/cli"

func main() {
	cli.Execute()
}
