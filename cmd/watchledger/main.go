package main

import "github.com/vietddude/watchledger/internal/cli"

func main() {
	cli.Execute()
}
