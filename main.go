package main

import (
	"log"

	"github.com/bobuhiro11/gokernel/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
