package main

import "github.com/hivemq/hivemq-testcontainer-go/internal/cli"

func main() {
	cli.Execute()
}
