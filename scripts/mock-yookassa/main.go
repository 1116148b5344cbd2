package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Mock YooKassa for local development: serves the payments API the backend
// calls, and after a short delay fires a signed payment.succeeded webhook at
// the backend, so the whole top-up loop runs without a real provider account.

type paymentObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Paid   bool   `json:"paid"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func main() {
	port := flag.String("port", ":8081", "listen address")
	webhookURL := flag.String("webhook-url", "http://localhost:8080/webhooks/yookassa", "backend webhook endpoint")
	secret := flag.String("secret", "dev-webhook-secret", "webhook HMAC secret")
	delay := flag.Duration("delay", 3*time.Second, "delay before firing the success webhook")
	flag.Parse()

	var mu sync.Mutex
	seen := make(map[string]string) // Idempotence-Key -> payment id

	http.HandleFunc("/payments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		var req struct {
			Amount struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		idemKey := r.Header.Get("Idempotence-Key")
		mu.Lock()
		paymentID, replay := seen[idemKey]
		if !replay {
			paymentID = fmt.Sprintf("mock_%d", time.Now().UnixNano())
			if idemKey != "" {
				seen[idemKey] = paymentID
			}
		}
		mu.Unlock()

		var obj paymentObject
		obj.ID = paymentID
		obj.Status = "pending"
		obj.Amount.Value = req.Amount.Value
		obj.Amount.Currency = req.Amount.Currency
		obj.Confirmation.Type = "redirect"
		obj.Confirmation.ConfirmationURL = "https://yookassa.test/confirm/" + paymentID
		obj.Metadata = req.Metadata

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(obj)

		log.Printf("Created mock payment %s (replay=%v)", paymentID, replay)

		if !replay {
			go fireSuccessWebhook(*webhookURL, *secret, *delay, obj)
		}
	})

	log.Printf("Mock YooKassa server starting on %s...", *port)
	if err := http.ListenAndServe(*port, nil); err != nil {
		log.Fatal(err)
	}
}

func fireSuccessWebhook(url, secret string, delay time.Duration, obj paymentObject) {
	time.Sleep(delay)

	obj.Status = "succeeded"
	obj.Paid = true

	notification := map[string]any{
		"type":   "notification",
		"event":  "payment.succeeded",
		"object": obj,
	}
	body, err := json.Marshal(notification)
	if err != nil {
		log.Printf("webhook marshal failed: %v", err)
		return
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()

	log.Printf("Delivered payment.succeeded for %s, backend answered %d", obj.ID, resp.StatusCode)
}
