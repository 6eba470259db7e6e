// Command softmmu inspects and exercises the soft-MMU translation layer.
package main

import "github.com/sarchlab/softmmu/cmd/softmmu/cmd"

func main() {
	cmd.Execute()
}
