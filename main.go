package main

import "github.com/replyforge-ai/replyforge-cli/cmd"

func main() {
	cmd.Execute()
}
