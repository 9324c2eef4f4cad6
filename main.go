// The main package for the job51crawler executable.
package main

import (
	"github.com/yifanzhou/job51-crawler/cmd"
)

func main() {
	cmd.Execute()
}
