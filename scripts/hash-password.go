// Command hash-password prints the bcrypt hash to set as ADMIN_TOKEN_HASH.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

const adminTokenCost = 12

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <admin-token>\n")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), adminTokenCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash admin token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
}
