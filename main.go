// ipcheck is the IP reputation aggregation service.
package main

import "github.com/ssfun/ip-check/internal/cmd"

func main() {
	cmd.Main()
}
