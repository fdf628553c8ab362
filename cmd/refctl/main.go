package main

import "go.refcache.dev/core/cmd/refctl/refctlcmd"

func main() { refctlcmd.Execute() }
