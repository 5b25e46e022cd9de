package main

import "github.com/marcelzwiers/fmriprep-sub/cmd"

func main() {
	cmd.Execute()
}
