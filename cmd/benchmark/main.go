// Benchmark tool for testing Harrier against synthetic returns-abuse data.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080
//
// This tool:
//   1. Generates a labeled order/returns CSV with known abuser cohorts
//   2. Uploads it to Harrier and triggers a full analysis run
//   3. Compares Harrier's flagged users with the seeded labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// row is one order line in the generated CSV.
type row struct {
	OrderID      string
	BuyerName    string
	SKU          string
	ItemPrice    float64
	PurchaseDate time.Time
	ReturnDate   *time.Time
}

// Seeded buyer cohorts. Serial abusers return almost everything within two
// days, cold-start abusers return a single expensive first order, and normal
// shoppers return the occasional item after a week or two.
const (
	serialAbusers    = 150
	coldStartAbusers = 100
	normalShoppers   = 300
)

// scoredUser is one entry of the /fraud-users response.
type scoredUser struct {
	UserID           int64   `json:"userId"`
	OverallRiskScore float64 `json:"overallRiskScore"`
	Reasoning        string  `json:"reasoning"`
}

type fraudUsersResponse struct {
	FraudUsers []scoredUser `json:"fraudUsers"`
	Count      int          `json:"count"`
}

type userRecord struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Abuser flagged
	FalsePositives int64 // Normal shopper flagged
	TrueNegatives  int64 // Normal shopper not flagged
	FalseNegatives int64 // Abuser not flagged (missed fraud!)

	TotalUsers   int64
	TotalAbusers int64
	TotalNormal  int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	seed := flag.Int64("seed", 42, "Seed for the synthetic dataset")
	threshold := flag.Float64("threshold", 60, "Risk score that counts as flagged")
	csvOut := flag.String("csv-out", "", "Also write the generated CSV to this path")
	verbose := flag.Bool("verbose", false, "Print each user result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         HARRIER BENCHMARK - Returns Abuse Detection           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Threshold:   %.1f\n", *threshold)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Generate labeled dataset
	fmt.Println("\nGenerating synthetic order/returns data...")
	rows, labels := generateDataset(rand.New(rand.NewSource(*seed)))
	fmt.Printf("✓ Generated %d order lines across %d buyers\n", len(rows), len(labels))

	abuserCount := 0
	for _, isAbuser := range labels {
		if isAbuser {
			abuserCount++
		}
	}
	fmt.Printf("  - Abusers: %d (%.2f%%)\n", abuserCount, 100*float64(abuserCount)/float64(len(labels)))
	fmt.Printf("  - Normal:  %d (%.2f%%)\n", len(labels)-abuserCount, 100*float64(len(labels)-abuserCount)/float64(len(labels)))

	csvData := writeCSV(rows)
	if *csvOut != "" {
		if err := os.WriteFile(*csvOut, csvData, 0o644); err != nil {
			fmt.Printf("ERROR: Failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote dataset to %s\n", *csvOut)
	}

	client := &http.Client{Timeout: 5 * time.Minute}

	// Upload and analyze
	fmt.Println("\nUploading dataset...")
	if err := uploadCSV(client, *baseURL, csvData); err != nil {
		fmt.Printf("ERROR: Upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Dataset ingested")

	fmt.Println("\nRunning analysis...")
	startTime := time.Now()
	if err := runAnalysis(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Analysis failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(startTime)
	fmt.Printf("✓ Analysis complete in %v\n", duration.Round(time.Millisecond))

	// Fetch scores and resolve user IDs back to buyer names
	scores, err := fetchScores(client, *baseURL)
	if err != nil {
		fmt.Printf("ERROR: Failed to fetch scores: %v\n", err)
		os.Exit(1)
	}
	names, err := fetchUserNames(client, *baseURL)
	if err != nil {
		fmt.Printf("ERROR: Failed to fetch users: %v\n", err)
		os.Exit(1)
	}

	metrics := evaluate(scores, names, labels, *threshold, *verbose)
	printResults(metrics, duration)
}

// generateDataset builds the labeled order lines. The returned map carries
// the ground truth per buyer name.
func generateDataset(rng *rand.Rand) ([]row, map[string]bool) {
	var rows []row
	labels := make(map[string]bool)
	base := time.Now().UTC().AddDate(0, 0, -60).Truncate(24 * time.Hour)
	orderSeq := 0

	nextOrderID := func() string {
		orderSeq++
		return fmt.Sprintf("ORDER-%06d", orderSeq)
	}

	// Serial abusers: many items, nearly all returned within two days.
	for i := 0; i < serialAbusers; i++ {
		name := fmt.Sprintf("SerialAbuser_%d", i)
		labels[name] = true
		items := 8 + rng.Intn(5)
		for j := 0; j < items; j++ {
			purchase := base.AddDate(0, 0, rng.Intn(45))
			r := row{
				OrderID:      nextOrderID(),
				BuyerName:    name,
				SKU:          fmt.Sprintf("SKU-%04d", rng.Intn(500)),
				ItemPrice:    40 + rng.Float64()*110,
				PurchaseDate: purchase,
			}
			if rng.Float64() < 0.9 {
				ret := purchase.AddDate(0, 0, rng.Intn(3))
				r.ReturnDate = &ret
			}
			rows = append(rows, r)
		}
	}

	// Cold-start abusers: one expensive first order, returned the next day.
	for i := 0; i < coldStartAbusers; i++ {
		name := fmt.Sprintf("NewFraudster_%d", i)
		labels[name] = true
		purchase := base.AddDate(0, 0, rng.Intn(45))
		ret := purchase.AddDate(0, 0, 1)
		rows = append(rows, row{
			OrderID:      nextOrderID(),
			BuyerName:    name,
			SKU:          fmt.Sprintf("SKU-LUX-%03d", rng.Intn(100)),
			ItemPrice:    1500 + rng.Float64()*1500,
			PurchaseDate: purchase,
			ReturnDate:   &ret,
		})
	}

	// Normal shoppers: a few cheap items, rarely returned, and never quickly.
	for i := 0; i < normalShoppers; i++ {
		name := fmt.Sprintf("NormalShopper_%d", i)
		labels[name] = false
		items := 2 + rng.Intn(5)
		for j := 0; j < items; j++ {
			purchase := base.AddDate(0, 0, rng.Intn(45))
			r := row{
				OrderID:      nextOrderID(),
				BuyerName:    name,
				SKU:          fmt.Sprintf("SKU-%04d", rng.Intn(500)),
				ItemPrice:    10 + rng.Float64()*40,
				PurchaseDate: purchase,
			}
			if rng.Float64() < 0.1 {
				ret := purchase.AddDate(0, 0, 5+rng.Intn(11))
				r.ReturnDate = &ret
			}
			rows = append(rows, r)
		}
	}

	rng.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})

	return rows, labels
}

func writeCSV(rows []row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"amazon-order-id", "buyer-name", "sku", "item-price", "purchase-date", "return-date"})
	for _, r := range rows {
		returnDate := ""
		if r.ReturnDate != nil {
			returnDate = r.ReturnDate.Format("2006-01-02T15:00:00Z")
		}
		w.Write([]string{
			r.OrderID,
			r.BuyerName,
			r.SKU,
			fmt.Sprintf("%.2f", r.ItemPrice),
			r.PurchaseDate.Format("2006-01-02T15:00:00Z"),
			returnDate,
		})
	}
	w.Flush()
	return buf.Bytes()
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func uploadCSV(client *http.Client, baseURL string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "benchmark.csv")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/upload-csv", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func runAnalysis(client *http.Client, baseURL string) error {
	resp, err := client.Post(baseURL+"/run-analysis", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func fetchScores(client *http.Client, baseURL string) (map[int64]scoredUser, error) {
	resp, err := client.Get(baseURL + "/fraud-users")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed fraudUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	scores := make(map[int64]scoredUser, len(parsed.FraudUsers))
	for _, s := range parsed.FraudUsers {
		scores[s.UserID] = s
	}
	return scores, nil
}

// fetchUserNames pages through /users to map internal user IDs back to the
// buyer names the generator seeded.
func fetchUserNames(client *http.Client, baseURL string) (map[int64]string, error) {
	names := make(map[int64]string)
	const pageSize = 500

	for skip := 0; ; skip += pageSize {
		url := fmt.Sprintf("%s/users?skip=%d&limit=%d", baseURL, skip, pageSize)
		resp, err := client.Get(url)
		if err != nil {
			return nil, err
		}

		var page []userRecord
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, u := range page {
			names[u.UserID] = u.Name
		}
		if len(page) < pageSize {
			break
		}
	}
	return names, nil
}

func evaluate(scores map[int64]scoredUser, names map[int64]string, labels map[string]bool, threshold float64, verbose bool) *Metrics {
	m := &Metrics{}

	for userID, name := range names {
		actual, known := labels[name]
		if !known {
			continue
		}

		m.TotalUsers++
		if actual {
			m.TotalAbusers++
		} else {
			m.TotalNormal++
		}

		score, scored := scores[userID]
		predicted := scored && score.OverallRiskScore >= threshold

		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}

		if verbose {
			status := "✓"
			if predicted != actual {
				status = "✗"
			}
			fmt.Printf("%s %-20s | Abuser: %-5v | Flagged: %-5v | Score: %6.2f | %s\n",
				status, name, actual, predicted, score.OverallRiskScore, score.Reasoning)
		}
	}

	return m
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Buyers:     %d\n", m.TotalUsers)
	fmt.Printf("   Seeded Abusers:   %d\n", m.TotalAbusers)
	fmt.Printf("   Normal Shoppers:  %d\n", m.TotalNormal)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged     Cleared")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged users, how many were abusers)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of abusers, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalAbusers > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalAbusers) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalAbusers) * 100
		fmt.Printf("   Abusers Caught:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalAbusers, detectionRate)
		fmt.Printf("   Abusers Missed:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalAbusers, missRate)
	}
	if m.TotalNormal > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNormal) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNormal, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Analysis Duration: %v\n", duration.Round(time.Millisecond))

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most abuse")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some abuse")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant abuse being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most abuse is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
