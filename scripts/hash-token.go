package main

import (
	"fmt"
	"os"

	"github.com/superparser/gateway-control/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-token.go <admin-token>\n")
		os.Exit(1)
	}

	hash, err := util.HashTokenBcrypt(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
