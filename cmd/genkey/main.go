package main

import (
	"fmt"

	"github.com/eldtechnologies/pagechat/internal/crypto"
)

func main() {
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	fmt.Printf("Public key (base64):  %s\n", pub)
	fmt.Printf("Private key (base64): %s\n", priv)
}
