// Command importctl runs imports and inspects import history from the
// command line, using the same configuration as the server.
package main

import (
	_ "github.com/JonMunkholm/importer/internal/kinds" // register import kinds
)

func main() {
	Execute()
}
