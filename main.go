package main

import "github.com/careline/rtc/cmd"

func main() {
	cmd.Execute()
}
