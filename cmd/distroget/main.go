package main

import "github.com/oshokin/distroget/cmd/distroget/cmd"

func main() {
	cmd.Execute()
}
