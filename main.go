// +build go1.16

package main

import "github.com/staywilliam/asanopt/cmd"

func main() {
	cmd.Execute()
}
