package main

import (
	"github.com/ivenlau/xtrans-s/internal/cli"
)

func main() {
	cli.Execute()
}
