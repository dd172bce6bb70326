package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// Drives concurrent sales at a running server and checks that exactly
// stock/quantity of them succeed and the ledger still replays cleanly.

type stockView struct {
	CurrentQuantity int `json:"current_quantity"`
}

type verifyView struct {
	Consistent bool `json:"consistent"`
	Ledger     int  `json:"ledger"`
	Replayed   int  `json:"replayed"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	sellerID := flag.Int64("seller", 1, "seller id")
	productID := flag.Int64("product", 1, "product id")
	initialStock := flag.Int("stock", 20, "units assigned before the run")
	quantity := flag.Int("quantity", 1, "units per sale")
	totalRequests := flag.Int("requests", 50, "concurrent sales")
	flag.Parse()

	ctx := context.Background()
	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	// Zero the entry so the run starts from exactly initialStock
	var before stockView
	resp, err := client.R().SetContext(ctx).SetResult(&before).
		Get(fmt.Sprintf("/api/v1/stock/%d/%d", *sellerID, *productID))
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	if resp.StatusCode() == http.StatusOK && before.CurrentQuantity > 0 {
		resp, err = client.R().SetContext(ctx).
			SetBody(map[string]any{"quantity": 0, "reason": "stress test reset", "actor": "stress"}).
			Put(fmt.Sprintf("/api/v1/stock/%d/%d", *sellerID, *productID))
		if err != nil || resp.IsError() {
			log.Fatalf("failed to reset stock: %v %s", err, resp.String())
		}
	}
	resp, err = client.R().SetContext(ctx).
		SetBody(map[string]any{"seller_id": *sellerID, "product_id": *productID, "quantity": *initialStock, "actor": "stress"}).
		Post("/api/v1/stock/assignments")
	if err != nil || resp.IsError() {
		log.Fatalf("failed to assign stock: %v %s", err, resp.String())
	}

	var successCount, rejectedCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			resp, err := client.R().SetContext(ctx).
				SetHeader("Idempotency-Key", fmt.Sprintf("stress-%d-%d", start.UnixNano(), n)).
				SetBody(map[string]any{
					"seller_id":  *sellerID,
					"product_id": *productID,
					"quantity":   *quantity,
					"actor":      fmt.Sprintf("client-%d", n),
				}).
				Post("/api/v1/sales")
			switch {
			case err != nil:
				errorCount.Add(1)
			case resp.StatusCode() == http.StatusCreated:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusConflict:
				rejectedCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	rejected := int(rejectedCount.Load())
	expected := *initialStock / *quantity
	if expected > *totalRequests {
		expected = *totalRequests
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Units per Sale:   %d\n", *quantity)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == expected && rejected == *totalRequests-expected {
		fmt.Printf("PASS: Exactly %d sales succeeded, %d rejected\n", expected, rejected)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			expected, *totalRequests-expected, success, rejected)
	}

	var after stockView
	if _, err := client.R().SetContext(ctx).SetResult(&after).
		Get(fmt.Sprintf("/api/v1/stock/%d/%d", *sellerID, *productID)); err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", after.CurrentQuantity)
	if want := *initialStock - expected*(*quantity); after.CurrentQuantity == want {
		fmt.Printf("PASS: Stock settled at %d\n", want)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", want, after.CurrentQuantity)
	}

	var verify verifyView
	if _, err := client.R().SetContext(ctx).SetResult(&verify).
		Get(fmt.Sprintf("/api/v1/stock/%d/%d/verify", *sellerID, *productID)); err != nil {
		log.Fatalf("failed to verify stock: %v", err)
	}
	if verify.Consistent {
		fmt.Println("PASS: Ledger matches replayed history")
	} else {
		fmt.Printf("FAIL: Ledger %d, replayed history %d\n", verify.Ledger, verify.Replayed)
	}
}
