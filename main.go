package main

import "github.com/andresmejia3/parallax/cmd"

func main() {
	cmd.Execute()
}
