package main

import "github.com/fabfab/visacoach/cmd"

func main() {
	cmd.Execute()
}
