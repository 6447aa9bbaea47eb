// Command availability-sim answers availability queries against a JSON
// fixture using the same engine as the service, without a database.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
