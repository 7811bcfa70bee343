//go:build tinygo

package main

import (
	"spire/app"
	"spire/hal"
)

func main() {
	app.Run(hal.New())
}
