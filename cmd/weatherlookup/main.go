package main

import "github.com/kjstillabower/weather-lookup/internal/cli"

func main() {
	cli.Execute()
}
