package main

import (
	"os"

	intelmemcmder "github.com/justice-rest/intelmem/cmd/intelmem"
)

func main() {
	cmd := intelmemcmder.NewIntelmemCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
