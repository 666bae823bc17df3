package main

import "github.com/nsyszr/foodblog/pkg/userctl/cmd"

func main() {
	cmd.Execute()
}
