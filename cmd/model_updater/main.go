// Command model_updater triggers the running bridge to ask its browser
// peer to resend the full model inventory.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
)

func main() {
	bridgeURL := flag.String("bridge-url", "http://127.0.0.1:8080", "base URL of the running bridge")
	flag.Parse()

	fmt.Println("requesting a model list refresh from the bridge...")
	resp, err := http.Post(*bridgeURL+"/v1/refresh-models", "application/json", nil)
	if err != nil {
		fmt.Printf("could not connect to the bridge at %s: %v\n", *bridgeURL, err)
		fmt.Println("make sure the bridge is running")
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		fmt.Printf("bridge returned unexpected status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("refresh requested; make sure the arena page is open so the userscript can extract the latest models")
	fmt.Println("the bridge will replace its in-memory model registry once the browser responds")
}
