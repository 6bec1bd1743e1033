package main

import "github.com/lakeview-ai/lakeview/cmd/lakeview/cmd"

func main() {
	cmd.Execute()
}
