package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	check := flag.String("check", "", "Verify the password against this hash instead of hashing it")
	flag.Parse()

	password, err := readPassword(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Usage: hash-password [-cost n] [-check hash] <password>  (or pipe it on stdin)")
		os.Exit(1)
	}

	if *check != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(*check), []byte(password)); err != nil {
			fmt.Println("mismatch")
			os.Exit(2)
		}
		fmt.Println("match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func readPassword(args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("expected one password, got %d arguments", len(args))
	}
	if len(args) == 1 {
		return args[0], nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no password given")
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no password given")
	}
	return line, nil
}
