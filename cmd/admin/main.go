package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "worlds":
			worldsCmd(os.Args[2:])
			return
		case "episodes":
			episodesCmd(os.Args[2:])
			return
		case "totals":
			totalsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "-h", "--help", "help":
			usage()
			return
		}
	}
	worldsCmd(os.Args[1:])
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin [worlds|episodes|totals|state] [flags]")
	fmt.Fprintln(os.Stderr, "  worlds    list indexed worlds (default)")
	fmt.Fprintln(os.Stderr, "  episodes  list recent episodes")
	fmt.Fprintln(os.Stderr, "  totals    episode count and reward of one world")
	fmt.Fprintln(os.Stderr, "  state     live worlds from a running server")
}
