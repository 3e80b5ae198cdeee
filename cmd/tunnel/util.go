package main

import (
	"fmt"
	"os"
)

func Eprintln(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
}

func Fatalln(a ...interface{}) {
	Eprintln(a...)
	os.Exit(1)
}
