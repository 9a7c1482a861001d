package main

import (
	"log"

	"github.com/austindbirch/harbor_remind/cmd/remindctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
