// Package main provides a commit hook that speaks each committed word with
// the platform's text-to-speech command.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Request represents the input from the hook runner.
type Request struct {
	Action    string          `json:"action"`
	Token     string          `json:"token"`
	SessionID string          `json:"session_id"`
	TS        int64           `json:"ts"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the output to the hook runner.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config optionally overrides the TTS command; the phrase is appended as
// the last argument.
type Config struct {
	Command []string `json:"command"`
}

var errNoTTS = errors.New("no text-to-speech command found")

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	if req.Action != "commit" {
		writeResponse(Response{Error: fmt.Sprintf("unknown action: %s", req.Action)})
		return
	}

	phrase := phraseFor(req.Token)
	if phrase == "" {
		writeResponse(Response{Error: "empty token"})
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeResponse(Response{Error: fmt.Sprintf("failed to parse config: %v", err)})
			return
		}
	}

	if err := speak(cfg.Command, phrase); err != nil {
		writeResponse(Response{Error: err.Error()})
		return
	}

	data, _ := json.Marshal(map[string]string{"spoken": phrase})
	writeResponse(Response{Success: true, Data: data})
}

// phraseFor turns a token such as THANK_YOU into "thank you".
func phraseFor(token string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(token), "_", " "))
}

// ttsCommand picks the speech command for goos, preferring override.
func ttsCommand(goos string, override []string, lookPath func(string) (string, error)) ([]string, error) {
	if len(override) > 0 {
		return override, nil
	}

	var candidates [][]string
	switch goos {
	case "darwin":
		candidates = [][]string{{"say"}}
	case "windows":
		candidates = [][]string{{"powershell", "-NoProfile", "-Command",
			"Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak($args[0])"}}
	default:
		candidates = [][]string{{"espeak-ng"}, {"espeak"}, {"spd-say", "--wait"}}
	}

	for _, c := range candidates {
		if _, err := lookPath(c[0]); err == nil {
			return c, nil
		}
	}
	return nil, errNoTTS
}

func speak(override []string, phrase string) error {
	cmdline, err := ttsCommand(runtime.GOOS, override, exec.LookPath)
	if err != nil {
		return err
	}

	args := append(append([]string{}, cmdline[1:]...), phrase)
	cmd := exec.Command(cmdline[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmdline[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

func writeResponse(resp Response) {
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}
