// sign prints the authentication headers for a pagechat request body,
// for use with curl and other plain HTTP tools.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eldtechnologies/pagechat/internal/api/middleware"
	"github.com/eldtechnologies/pagechat/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key or seed")
	agentID := flag.String("agent", "", "Agent UUID")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" || *agentID == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -agent <agent-uuid> [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified")
		os.Exit(1)
	}

	privKey, err := crypto.ParsePrivateKey(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	// Read body
	var body []byte
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()

	fmt.Printf("%s: %s\n", middleware.HeaderAgent, *agentID)
	fmt.Printf("%s: %s\n", middleware.HeaderNonce, nonce)
	fmt.Printf("%s: %d\n", middleware.HeaderTimestamp, timestamp)
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, crypto.SignRequest(privKey, body, nonce, timestamp))
}
