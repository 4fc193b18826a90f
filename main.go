package main

import "cardsignal/internal/cli"

func main() {
	cli.Execute()
}
