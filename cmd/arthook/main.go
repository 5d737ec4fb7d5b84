package main

import "github.com/pboyd/arthook/cmd/arthook/cmd"

func main() {
	cmd.Execute()
}
