package main

import "github.com/vietddude/printguard/internal/cli"

func main() {
	cli.Execute()
}
