package main

import "github.com/filmatlas/crawler/cmd"

func main() {
	cmd.Execute()
}
