// focusctl inspects FocusForge statistics and runs the frame analyzer offline.
package main

import "github.com/ashureev/focusforge/internal/cli"

func main() {
	cli.Execute()
}
