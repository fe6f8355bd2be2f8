// nanit-login performs an interactive Nanit account login and prints the
// resulting token pair as JSON. With -daemon it also provisions a running
// nanitd instance through POST /api/auth/token.
//
// Nanit sends an MFA code by email or SMS for accounts with two-factor
// enabled; the tool prompts for it.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethan/nanit-relay/pkg/nanit"
	"github.com/ethan/nanit-relay/pkg/rest"
)

func main() {
	fs := flag.NewFlagSet("nanit-login", flag.ExitOnError)
	email := fs.String("email", "", "Nanit account email (prompted if empty)")
	daemonURL := fs.String("daemon", "", "nanitd base URL to provision, e.g. http://127.0.0.1:8787")
	outFile := fs.String("out", "", "Write the token pair to this file instead of stdout")
	fs.Parse(os.Args[1:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stdin := bufio.NewReader(os.Stdin)

	addr := *email
	if addr == "" {
		addr = prompt(stdin, "Email: ")
	}
	password := os.Getenv("NANIT_PASSWORD")
	if password == "" {
		password = prompt(stdin, "Password: ")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := nanit.NewClient(&http.Client{Timeout: 30 * time.Second}, log)

	err := client.Login(ctx, addr, password)
	var mfaErr *rest.MFARequiredError
	if errors.As(err, &mfaErr) {
		code := prompt(stdin, "MFA code: ")
		err = client.VerifyMFA(ctx, addr, password, mfaErr.MFAToken, code)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	tokens := client.Tokens()
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode tokens: %v\n", err)
		os.Exit(1)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, data, 0600); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *outFile, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "tokens written to %s\n", *outFile)
	} else {
		fmt.Println(string(data))
	}

	if *daemonURL != "" {
		if err := provision(ctx, *daemonURL, data); err != nil {
			fmt.Fprintf(os.Stderr, "provision daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "daemon at %s provisioned\n", *daemonURL)
	}
}

func prompt(stdin *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, err := stdin.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nread input: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(line)
}

func provision(ctx context.Context, baseURL string, tokens []byte) error {
	url := strings.TrimRight(baseURL, "/") + "/api/auth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(tokens))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	return nil
}
