// Command smartapp-rpc serves and calls SmartApp RPC methods over TCP.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
