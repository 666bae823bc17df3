package main

import "github.com/nsyszr/foodblog/pkg/authsvc/cmd"

func main() {
	cmd.Execute()
}
