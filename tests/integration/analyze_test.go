//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Kestrel
// server.
//
// Each scenario posts a small card history to POST /analyze and checks which
// rules fire:
//
//	Transactions → per-user history → four rules → annotations + metrics
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// THE RULES (default preset):
//
// | Rule                   | Triggers When                                        |
// |------------------------|------------------------------------------------------|
// | HIGH_FREQUENCY         | more than 5 purchases in 60 minutes                  |
// | HIGH_AMOUNT_SINGLE     | one purchase over $1,000                             |
// | HIGH_AMOUNT_CUMULATIVE | over $3,000 spent on one calendar day                |
// | IMPOSSIBLE_TRAVEL      | faster than 600 mph between purchases over 50 miles  |
// | UNUSUAL_TIME           | purchase between 02:00 and 05:59                     |
//
// Set KESTREL_TEST_URL to point at a server other than localhost:8080.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type Transaction struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Timestamp string  `json:"timestamp"`
	Amount    string  `json:"amount"`
	Merchant  string  `json:"merchant,omitempty"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsFraud   *bool   `json:"isFraud,omitempty"`
}

type AnalyzeRequest struct {
	ConfigurationName string        `json:"configurationName,omitempty"`
	Transactions      []Transaction `json:"transactions"`
	Filter            string        `json:"filter,omitempty"`
}

type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type Result struct {
	Transaction
	Suspicious bool        `json:"suspicious"`
	RiskScore  int         `json:"riskScore"`
	Violations []Violation `json:"violations"`
}

type Metrics struct {
	TotalTransactions int `json:"totalTransactions"`
	FlaggedCount      int `json:"flaggedCount"`
	GroundTruth       *struct {
		Precision float64 `json:"precision"`
		Recall    float64 `json:"recall"`
	} `json:"groundTruth"`
}

type AnalyzeResponse struct {
	Configuration string   `json:"configuration"`
	Metrics       Metrics  `json:"metrics"`
	Results       []Result `json:"results"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var client = &http.Client{Timeout: 10 * time.Second}

func call(t *testing.T, method, url string, body any, wantStatus int) []byte {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, resp.StatusCode, respBody)
	}
	return respBody
}

func analyze(t *testing.T, config TestConfig, req AnalyzeRequest) AnalyzeResponse {
	t.Helper()

	body := call(t, http.MethodPost, config.BaseURL+"/analyze", req, http.StatusOK)
	var result AnalyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	return result
}

// purchase builds a transaction for user at the given local wall time.
func purchase(id, user, at, amount string, city string, lat, lon float64) Transaction {
	return Transaction{
		ID:        id,
		UserID:    user,
		Timestamp: at,
		Amount:    amount,
		Merchant:  "Test Merchant",
		Location:  city,
		Latitude:  lat,
		Longitude: lon,
	}
}

func nyc(id, user, at, amount string) Transaction {
	return purchase(id, user, at, amount, "New York, NY", 40.7128, -74.0060)
}

func rulesOf(r Result) []string {
	ids := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		ids[i] = v.Rule
	}
	return ids
}

// uniqueUser keeps scenarios independent when run against a shared server.
func uniqueUser(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

// ============================================================================
// SCENARIO 1: Normal Spending (No Alerts)
// ============================================================================

func TestNormalSpending_NoAlert(t *testing.T) {
	/*
	   SCENARIO: Three daytime purchases in New York over two days

	   EXPECTED BEHAVIOR: no rule fires, every transaction is clean
	*/
	config := getTestConfig()
	user := uniqueUser("normal")

	result := analyze(t, config, AnalyzeRequest{Transactions: []Transaction{
		nyc("N1", user, "2024-03-01T09:15:00Z", "42.50"),
		nyc("N2", user, "2024-03-01T13:40:00Z", "120.00"),
		nyc("N3", user, "2024-03-02T18:05:00Z", "65.99"),
	}})

	if result.Metrics.FlaggedCount != 0 {
		t.Errorf("Expected no flags, got %d", result.Metrics.FlaggedCount)
	}
	for _, r := range result.Results {
		if r.Suspicious || len(r.Violations) != 0 {
			t.Errorf("%s: unexpected violations %v", r.ID, rulesOf(r))
		}
	}
}

// ============================================================================
// SCENARIO 2: Impossible Travel
// ============================================================================

func TestImpossibleTravel(t *testing.T) {
	/*
	   SCENARIO: New York at 10:00, Los Angeles at 10:30

	   EXPECTED BEHAVIOR:
	   - ~2,450 miles in 0.5 hours is ~4,900 mph > 600 mph
	   - only the second purchase is flagged
	*/
	config := getTestConfig()
	user := uniqueUser("travel")

	result := analyze(t, config, AnalyzeRequest{Transactions: []Transaction{
		nyc("TR1", user, "2024-03-01T10:00:00Z", "50"),
		purchase("TR2", user, "2024-03-01T10:30:00Z", "50", "Los Angeles, CA", 34.0522, -118.2437),
	}})

	if result.Results[0].Suspicious {
		t.Errorf("First purchase should be clean, got %v", rulesOf(result.Results[0]))
	}
	if got := rulesOf(result.Results[1]); !slices.Equal(got, []string{"IMPOSSIBLE_TRAVEL"}) {
		t.Errorf("Expected IMPOSSIBLE_TRAVEL, got %v", got)
	}
}

// ============================================================================
// SCENARIO 3: Rapid-Fire Purchases
// ============================================================================

func TestHighFrequency(t *testing.T) {
	/*
	   SCENARIO: Seven purchases two minutes apart

	   EXPECTED BEHAVIOR:
	   - the window counts the current purchase, so the 6th and 7th exceed 5
	*/
	config := getTestConfig()
	user := uniqueUser("burst")

	var txs []Transaction
	start := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	for i := range 7 {
		at := start.Add(time.Duration(2*i) * time.Minute).Format(time.RFC3339)
		txs = append(txs, nyc(fmt.Sprintf("F%d", i+1), user, at, "25"))
	}

	result := analyze(t, config, AnalyzeRequest{Transactions: txs})

	for i, r := range result.Results {
		want := i >= 5
		if r.Suspicious != want {
			t.Errorf("%s: suspicious=%v, want %v (%v)", r.ID, r.Suspicious, want, rulesOf(r))
		}
	}
}

// ============================================================================
// SCENARIO 4: Large Amounts
// ============================================================================

func TestHighAmount(t *testing.T) {
	/*
	   SCENARIO: $1,500 then $900 x 2 on the same day

	   EXPECTED BEHAVIOR:
	   - first purchase breaks the $1,000 single limit, which takes priority
	   - the day totals $3,300, so the other two break the $3,000 daily limit
	*/
	config := getTestConfig()
	user := uniqueUser("amount")

	result := analyze(t, config, AnalyzeRequest{Transactions: []Transaction{
		nyc("A1", user, "2024-03-01T09:00:00Z", "1500"),
		nyc("A2", user, "2024-03-01T12:00:00Z", "900"),
		nyc("A3", user, "2024-03-01T18:00:00Z", "900"),
	}})

	tests := []struct {
		id   string
		want []string
	}{
		{"A1", []string{"HIGH_AMOUNT_SINGLE"}},
		{"A2", []string{"HIGH_AMOUNT_CUMULATIVE"}},
		{"A3", []string{"HIGH_AMOUNT_CUMULATIVE"}},
	}
	for i, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := rulesOf(result.Results[i]); !slices.Equal(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// ============================================================================
// SCENARIO 5: Presets Change the Verdict
// ============================================================================

func TestPresetsDiffer(t *testing.T) {
	/*
	   SCENARIO: A $700 purchase at 01:30

	   EXPECTED BEHAVIOR:
	   - default: clean (under $1,000, before 02:00)
	   - strict: $500 limit and 01:00-06:59 window, two violations
	   - lenient: clean
	*/
	config := getTestConfig()
	user := uniqueUser("preset")
	txs := []Transaction{nyc("P1", user, "2024-03-01T01:30:00Z", "700")}

	want := map[string]int{"default": 0, "strict": 2, "lenient": 0}
	for name, risk := range want {
		t.Run(name, func(t *testing.T) {
			result := analyze(t, config, AnalyzeRequest{ConfigurationName: name, Transactions: txs})
			if result.Configuration != name {
				t.Errorf("Expected configuration %s, got %s", name, result.Configuration)
			}
			if got := result.Results[0].RiskScore; got != risk {
				t.Errorf("Expected risk %d, got %d (%v)", risk, got, rulesOf(result.Results[0]))
			}
		})
	}
}

// ============================================================================
// SCENARIO 6: Ground Truth Scoring
// ============================================================================

func TestGroundTruthMetrics(t *testing.T) {
	config := getTestConfig()
	user := uniqueUser("labels")
	fraud, clean := true, false

	odd := nyc("G1", user, "2024-03-01T03:10:00Z", "80")
	odd.IsFraud = &fraud
	day := nyc("G2", user, "2024-03-01T11:00:00Z", "80")
	day.IsFraud = &clean

	result := analyze(t, config, AnalyzeRequest{Transactions: []Transaction{odd, day}})

	gt := result.Metrics.GroundTruth
	if gt == nil {
		t.Fatal("Expected ground-truth metrics for a labeled set")
	}
	if gt.Precision != 1 || gt.Recall != 1 {
		t.Errorf("Expected perfect precision and recall, got %+v", *gt)
	}
}

// ============================================================================
// SCENARIO 7: Stored Run Lifecycle
// ============================================================================

func TestRunLifecycle(t *testing.T) {
	config := getTestConfig()
	user := uniqueUser("run")

	body := call(t, http.MethodPost, config.BaseURL+"/runs", map[string]any{
		"configurationName": "moderate",
		"transactions": []Transaction{
			nyc("R1", user, "2024-03-01T04:00:00Z", "20"),
			nyc("R2", user, "2024-03-01T12:00:00Z", "20"),
		},
	}, http.StatusCreated)

	var run struct {
		ID      string  `json:"id"`
		Metrics Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	if run.Metrics.FlaggedCount != 1 {
		t.Errorf("Expected 1 flagged, got %d", run.Metrics.FlaggedCount)
	}

	call(t, http.MethodGet, config.BaseURL+"/runs/"+run.ID+"/metrics", nil, http.StatusOK)
	call(t, http.MethodGet, config.BaseURL+"/runs/"+run.ID+"/report", nil, http.StatusOK)
	call(t, http.MethodGet, config.BaseURL+"/runs/"+run.ID+"/summary", nil, http.StatusOK)
}

// ============================================================================
// SCENARIO 8: Invalid Input
// ============================================================================

func TestInvalidInput(t *testing.T) {
	config := getTestConfig()

	t.Run("OutOfOrderHistory", func(t *testing.T) {
		user := uniqueUser("order")
		call(t, http.MethodPost, config.BaseURL+"/analyze", AnalyzeRequest{Transactions: []Transaction{
			nyc("O1", user, "2024-03-01T12:00:00Z", "10"),
			nyc("O2", user, "2024-03-01T11:00:00Z", "10"),
		}}, http.StatusBadRequest)
	})

	t.Run("UnknownConfiguration", func(t *testing.T) {
		call(t, http.MethodPost, config.BaseURL+"/analyze", AnalyzeRequest{
			ConfigurationName: "does-not-exist",
			Transactions:      []Transaction{},
		}, http.StatusNotFound)
	})
}
