package main

import "github.com/giantswarm/kubecontexts/cmd"

// version is set at build time through -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
