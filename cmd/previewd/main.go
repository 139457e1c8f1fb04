package main

import (
	"github.com/previewd/previewd/cmd/previewd/commands"
)

func main() {
	commands.Execute()
}
