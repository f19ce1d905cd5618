package main

import "github.com/jmehdipour/push-relay/cmd"

func main() {
	cmd.Execute()
}
