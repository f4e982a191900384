// Command gen-config writes a starter config.json and optionally hashes an
// operator password for the auth section.
package main

import (
	"flag"
	"fmt"
	"os"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/auth"
)

func main() {
	out := flag.String("out", "config.json", "output file")
	password := flag.String("hash-password", "", "print a bcrypt hash for the given operator password and exit")
	flag.Parse()

	if *password != "" {
		hash, err := auth.HashPassword(*password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists, refusing to overwrite\n", *out)
		os.Exit(1)
	}

	if err := config.GenerateSampleConfig(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *out)
}
