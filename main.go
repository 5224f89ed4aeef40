package main

import "github.com/shuv1337/shuvbot/cmd"

func main() {
	cmd.Execute()
}
