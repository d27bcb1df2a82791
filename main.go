package main

import "github.com/yarlson/go-solve/cmd"

func main() {
	cmd.Execute()
}
