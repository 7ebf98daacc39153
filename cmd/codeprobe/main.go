package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "seed":
		err = cmdSeed(os.Args[2:])
	case "repair":
		err = cmdRepair(os.Args[2:])
	case "regenerate":
		err = cmdRegenerate(os.Args[2:])
	case "enqueue":
		err = cmdEnqueue(os.Args[2:])
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("codeprobe %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Codeprobe - code-comprehension puzzles from real repositories

Usage:
  codeprobe <command> [arguments]

Batch Commands:
  seed        Generate puzzles in-process and store them
  repair      Re-check stored puzzles with the model and fix bad keys
  regenerate  Replace stored puzzles with freshly generated ones
  enqueue     Publish generation jobs to the work queue
  mcp         Serve the puzzle tools over MCP stdio

Other:
  help        Show this help message
  version     Show version information

Examples:
  codeprobe seed -n 25 -lang go          # 25 fresh Go puzzles
  codeprobe seed -n 5 -seed nightly-7    # reproducible selection walk
  codeprobe repair -lang python          # review stored Python puzzles
  codeprobe regenerate -id 'o|r|p|c'     # replace one puzzle
  codeprobe enqueue -n 100 -lang go -wait`)
}
