/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "jepcobird/cmd"

func main() {
	cmd.Execute()
}
