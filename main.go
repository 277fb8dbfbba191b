package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The tick report has already been printed.
		if errors.Is(err, errTickFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
