package main

import "github.com/nsyszr/foodblog/pkg/subsvc/cmd"

func main() {
	cmd.Execute()
}
