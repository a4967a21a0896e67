package main

import (
	"os"

	"github.com/dposnet/dposd/app"
)

func main() {
	if err := app.StartApp(); err != nil {
		os.Exit(1)
	}
}
