package main

import "github.com/obverse/obverse/cmd/custodyctl/cmd"

func main() {
	cmd.Execute()
}
