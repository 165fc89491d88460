package main

import "github.com/yunogate/yunogate/cmd"

func main() {
	cmd.Execute()
}
