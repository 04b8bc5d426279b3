// internal/app/helpers.go
package app

import (
	"log"
	"strings"
)

// NormalizeLocalViewer ensures the debug endpoint only binds to localhost
// and returns listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	listenAddr = a
	url = "http://" + a
	return
}

func logBanner(dir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("Goassist session scope")
	log.Printf(" Run folder  : %s", dir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" This process represents ONE captured session.")
	log.Println(" Agents reach it through the assist backend.")
	log.Println("────────────────────────────────────────")
}
