// Package main provides the entry point for the work-queue CLI.
package main

import "yqhp/work-queue/cmd"

func main() {
	cmd.Execute()
}
