package main

import (
	"flag"

	"goldlink/pkg/jwt"
)

// Generates the ES256 key pair the access tokens are signed with.
func main() {
	privatePath := flag.String("private", "private.pem", "path to write the private key")
	publicPath := flag.String("public", "public.pem", "path to write the public key")
	flag.Parse()

	jwt.MustECDSAGenerateKeys(*privatePath, *publicPath)
}
