package main

import "crypto-risk-scorer/internal/cli"

func main() {
	cli.Execute()
}
