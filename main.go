package main

import "github.com/serroba/collab-notes/internal/cli"

func main() {
	cli.Execute()
}
