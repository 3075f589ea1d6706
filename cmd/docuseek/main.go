// Package main is the entry point for the docuseek service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/docuseek/docuseek/internal/docuseek"
)

func main() {
	docuseek.NewApp().Run()
}
