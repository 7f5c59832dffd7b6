// sudo_pair_approve is the pair's side of sudo_pair.
// Lists sessions waiting for approval, answers them and mirrors approved
// sessions to the pair's terminal.
package main

import "github.com/ppiankov/sudopair/internal/cli"

func main() {
	cli.Execute()
}
