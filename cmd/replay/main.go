// Package main implements the telemetry replay client: it feeds a recorded
// driving session to a running autopilot server one record at a time and
// reports how often the predicted keys match what the human driver pressed.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/psmyrdek/autodrive/internal/telemetry"
)

type envelope struct {
	Result  string          `json:"result"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type predictionData struct {
	Commands map[string]bool `json:"commands"`
}

func main() {
	var (
		file     = flag.String("file", "", "session JSON file to replay (required)")
		addr     = flag.String("addr", "http://localhost:8000", "autopilot server base URL")
		session  = flag.String("session", "replay", "session id to replay under")
		token    = flag.String("token", "", "bearer token, empty when auth is disabled")
		interval = flag.Duration("interval", 0, "delay between records, 0 replays as fast as possible")
	)
	flag.Parse()

	if *file == "" {
		log.Fatal("-file is required")
	}

	recorded, err := telemetry.LoadFile(*file)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}
	log.Printf("Replaying %s: %d records against %s", recorded.Name, len(recorded.Records), *addr)

	client := &http.Client{Timeout: 10 * time.Second}

	if err := post(client, *addr+"/api/v1/reset", *token, map[string]string{"sessionId": *session}, nil); err != nil {
		log.Fatalf("Reset failed: %v", err)
	}

	// Command order matches the W/A/S/D label order from Record.Keys.
	commandNames := []string{"forward", "left", "brake", "right"}
	var matched, compared int
	for i, record := range recorded.Records {
		body := map[string]interface{}{
			"lSensor":   record.LSensor,
			"mlSensor":  record.MLSensor,
			"cSensor":   record.CSensor,
			"mrSensor":  record.MRSensor,
			"rSensor":   record.RSensor,
			"speed":     record.Speed,
			"sessionId": *session,
		}

		var data predictionData
		if err := post(client, *addr+"/api/v1/predict", *token, body, &data); err != nil {
			log.Fatalf("Predict failed at record %d: %v", i, err)
		}

		actual := record.Keys()
		for k, name := range commandNames {
			compared++
			if data.Commands[name] == (actual[k] >= 0.5) {
				matched++
			}
		}

		if (i+1)%100 == 0 {
			log.Printf("%d/%d records, key agreement %.1f%%",
				i+1, len(recorded.Records), 100*float64(matched)/float64(compared))
		}
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	if compared > 0 {
		log.Printf("Done: %d records, key agreement %.1f%%",
			len(recorded.Records), 100*float64(matched)/float64(compared))
	}
}

// post sends a JSON body and decodes the envelope's data into out when it is
// non-nil. Non-ok envelopes become errors.
func post(client *http.Client, url, token string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, raw)
	}
	if env.Result != "ok" {
		return fmt.Errorf("%s: %s (%d)", env.Code, env.Message, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
