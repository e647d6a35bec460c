package main

import "github.com/ResDream/TJU-vfmc-ticket/cmd"

func main() {
	cmd.Execute()
}
