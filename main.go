// Command bytewatch runs the stream resolution service.
package main

import "github.com/JakeFAU/bytewatch/cmd"

func main() {
	cmd.Execute()
}
