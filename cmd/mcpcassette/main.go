// Command mcpcassette records, replays, and verifies MCP JSON-RPC
// interactions against a cassette file.
package main

import "github.com/mcpcassette/mcpcassette/cmd/mcpcassette/cmd"

func main() {
	cmd.Execute()
}
