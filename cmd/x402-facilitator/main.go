// Command x402-facilitator verifies and settles x402 exact-scheme payments.
//
//	x402-facilitator serve -config facilitator.toml
//	x402-facilitator sign -network base-sepolia -pay-to 0x... -amount 10000
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("x402-facilitator - verify and settle x402 exact-scheme payments")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  x402-facilitator serve [flags]  - Run the facilitator HTTP API (and optional MCP endpoint)")
	fmt.Println("  x402-facilitator sign [flags]   - Sign a test payment and print its X-PAYMENT header")
	fmt.Println()
	fmt.Println("Run 'x402-facilitator serve --help' or 'x402-facilitator sign --help' for more information.")
}
