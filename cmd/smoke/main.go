// Command smoke drives one request through a running API instance seeded
// with the development bootstrap data: create a tagging request as the base
// user, approve it as the admin, and verify the effect landed.
//
// It mints tokens locally, so CREWARCHIVE_AUTH_SECRET must match the server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"crewarchive.org/internal/auth"
	"crewarchive.org/internal/policy"
)

type outcome struct {
	Applied        bool `json:"applied"`
	AlreadyPending bool `json:"already_pending"`
	Request        *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"request"`
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "API base URL")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(*baseURL + "/healthz")
	if err != nil {
		log.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("healthz: status %d", resp.StatusCode)
	}

	baseToken, err := auth.GenerateToken("usr_base", policy.LevelBaseUser, true, time.Hour)
	if err != nil {
		log.Fatalf("mint base token: %v", err)
	}
	adminToken, err := auth.GenerateToken("usr_admin", policy.LevelAdmin, true, time.Hour)
	if err != nil {
		log.Fatalf("mint admin token: %v", err)
	}

	role := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	var created outcome
	call(client, *baseURL, baseToken, http.MethodPost, "/v1/requests", map[string]any{
		"type":          "TAGGING",
		"resource_type": "event",
		"resource_id":   "evt_summer_jam",
		"role":          role,
	}, &created)
	if created.Request == nil || created.Request.Status != "PENDING" {
		log.Fatalf("expected a pending request, got %+v", created)
	}
	log.Printf("created request %s", created.Request.ID)

	var decided struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	call(client, *baseURL, adminToken, http.MethodPost,
		"/v1/requests/"+created.Request.ID+"/approve", nil, &decided)
	if decided.Status != "APPROVED" {
		log.Fatalf("expected APPROVED, got %q", decided.Status)
	}

	var notifications struct {
		Notifications []struct {
			Kind string `json:"kind"`
		} `json:"notifications"`
	}
	call(client, *baseURL, baseToken, http.MethodGet, "/v1/notifications", nil, &notifications)
	found := false
	for _, n := range notifications.Notifications {
		if n.Kind == "request_approved" {
			found = true
			break
		}
	}
	if !found {
		log.Fatal("approval notification missing")
	}

	log.Print("smoke test passed")
}

func call(client *http.Client, baseURL, bearer, method, path string, body any, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
