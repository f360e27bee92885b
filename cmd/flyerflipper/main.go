package main

import (
	"os"

	"github.com/danharris923/flyerflipper/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
