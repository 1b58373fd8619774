// Command id_updater is a one-shot helper that asks the running bridge to
// put the browser userscript into id-capture mode, waits for the captured
// sessionId/messageId pair on a tiny local HTTP endpoint, and writes them
// into the JSONC config file.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arenabridge/bridge/internal/config"
)

const (
	listenAddr    = "127.0.0.1:5103"
	bridgeBaseURL = "http://127.0.0.1:8080"
)

func main() {
	configPath := flag.String("config", "config/bridge.jsonc", "path to the JSONC config file to update")
	flag.Parse()

	raw := map[string]interface{}{}
	if err := config.ReadJSONCFile(*configPath, &raw); err != nil {
		fmt.Printf("could not read %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	mode := promptMode(raw)
	if err := config.RewriteJSONCKeys(*configPath, map[string]string{"id_updater_last_mode": mode}); err != nil {
		fmt.Printf("failed to persist mode: %v\n", err)
	}
	fmt.Printf("current mode: %s\n", strings.ToUpper(mode))

	if mode == "battle" {
		target := promptBattleTarget(raw)
		if err := config.RewriteJSONCKeys(*configPath, map[string]string{"id_updater_battle_target": target}); err != nil {
			fmt.Printf("failed to persist battle target: %v\n", err)
		}
		fmt.Printf("battle target: assistant %s\n", target)
		fmt.Println("note: regardless of A or B, the captured ids still update the main session_id/message_id")
	}

	if !notifyBridge() {
		fmt.Println("id capture aborted: could not reach the bridge")
		os.Exit(1)
	}

	runCaptureServer(*configPath)
}

func promptMode(raw map[string]interface{}) string {
	lastMode, _ := raw["id_updater_last_mode"].(string)
	if lastMode == "" {
		lastMode = "direct_chat"
	}

	fmt.Printf("select mode [a: DirectChat, b: Battle] (default: %s): ", lastMode)
	choice := strings.ToLower(strings.TrimSpace(readLine()))
	switch choice {
	case "":
		return lastMode
	case "a":
		return "direct_chat"
	case "b":
		return "battle"
	default:
		fmt.Printf("invalid input, using default: %s\n", lastMode)
		return lastMode
	}
}

func promptBattleTarget(raw map[string]interface{}) string {
	lastTarget, _ := raw["id_updater_battle_target"].(string)
	if lastTarget == "" {
		lastTarget = "A"
	}

	fmt.Printf("select the message to update [A (required for search models) or B] (default: %s): ", lastTarget)
	choice := strings.ToUpper(strings.TrimSpace(readLine()))
	switch choice {
	case "":
		return lastTarget
	case "A", "B":
		return choice
	default:
		fmt.Printf("invalid input, using default: %s\n", lastTarget)
		return lastTarget
	}
}

func readLine() string {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text()
}

// notifyBridge asks the running bridge to activate id-capture mode on the
// connected browser peer.
func notifyBridge() bool {
	fmt.Println("notifying the bridge to activate id capture...")
	resp, err := http.Post(bridgeBaseURL+"/internal/start-id-capture", "application/json", nil)
	if err != nil {
		fmt.Printf("could not connect to the bridge at %s: %v\n", bridgeBaseURL, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("bridge returned status %d\n", resp.StatusCode)
		return false
	}
	fmt.Println("bridge acknowledged the activation request")
	return true
}

// runCaptureServer runs a one-shot HTTP server that accepts the captured
// sessionId/messageId from the browser userscript and shuts itself down
// once it has written them to configPath.
func runCaptureServer(configPath string) {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("id capture listener started")
	fmt.Printf("listening on http://%s\n", listenAddr)
	fmt.Println("trigger the capture from the arena page now")
	fmt.Println(strings.Repeat("=", 50))

	done := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var body struct {
			SessionID string `json:"sessionId"`
			MessageID string `json:"messageId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" || body.MessageID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "missing sessionId or messageId"}`))
			return
		}

		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("captured ids from the browser")
		fmt.Printf("  session id: %s\n", body.SessionID)
		fmt.Printf("  message id: %s\n", body.MessageID)
		fmt.Println(strings.Repeat("=", 50))

		if err := config.RewriteJSONCKeys(configPath, map[string]string{
			"session_id": body.SessionID,
			"message_id": body.MessageID,
		}); err != nil {
			fmt.Printf("failed to persist ids: %v\n", err)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "failed to persist ids"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "success"}`))
		close(done)
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("capture server error: %v\n", err)
		}
	}()

	<-done
	fmt.Println("done, shutting down in one second")
	time.Sleep(time.Second)
	_ = srv.Close()
}
