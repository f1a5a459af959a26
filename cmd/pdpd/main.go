// pdpd is a policy decision point for SAML2 enforcement points.
//
// It keeps an in-memory cache of authorization policies per enforcement
// point, answers authorization requests against it, and pushes signed
// cache clear requests to enforcement points whenever their policies
// change.
//
// Usage:
//
//	# Start the daemon
//	pdpd run --config /etc/pdp/pdpd.yaml
//
//	# Evaluate a request offline against the configured store
//	pdpd decide --issuer https://spep.example.org/spep --resource /docs/a --attr uid=alice
//
//	# Check policy documents
//	pdpd policy validate policies/*.yaml
//
//	# Inspect undelivered cache clear requests
//	pdpd failures list
package main

import (
	"fmt"
	"os"

	"esoe-hq/pdp/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
