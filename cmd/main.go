package main

import "sensextrader/internal/cli"

func main() {
	cli.Execute()
}
