package main

import "github.com/andrej220/clusterexec/internal/cli"

func main() {
	cli.Execute()
}
