// Command rexec runs R snippets against persistent session workspaces
// from the terminal. See internal/cli for the commands.
package main

import "github.com/sakif/rstats-playground/internal/cli"

func main() {
	cli.Execute()
}
