package main

import "github.com/aqasim81/schema-orchestrator/internal/cli"

func main() {
	cli.Execute()
}
