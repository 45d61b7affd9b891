package main

import (
	"github.com/luma/mbackup/cmd"
)

func main() {
	cmd.Execute()
}
