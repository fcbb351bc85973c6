package main

import "github.com/prn-tf/coldsnap/cmd"

func main() {
	cmd.Execute()
}
