package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/malbeclabs/salesdesk/api/config"
	"github.com/malbeclabs/salesdesk/api/metrics"
)

// SalesSummary is a fixed-shape rollup for the dashboard header.
type SalesSummary struct {
	SalesYTD      float64 `json:"sales_ytd"`
	SalesMTD      float64 `json:"sales_mtd"`
	QuantityYTD   float64 `json:"quantity_ytd"`
	QuantityMTD   float64 `json:"quantity_mtd"`
	DeliveriesYTD uint64  `json:"deliveries_ytd"`
	Customers     uint64  `json:"customers"`
}

// GetSalesSummary returns year-to-date and month-to-date delivery totals.
func GetSalesSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	query := `
		SELECT
			sum(sales) AS sales_ytd,
			sumIf(sales, delivery_date >= toStartOfMonth(today())) AS sales_mtd,
			sum(quantity) AS quantity_ytd,
			sumIf(quantity, delivery_date >= toStartOfMonth(today())) AS quantity_mtd,
			count(*) AS deliveries_ytd,
			uniqExact(customer) AS customers
		FROM deliveries
		WHERE delivery_date >= toStartOfYear(today())
	`

	start := time.Now()
	row := config.DB.QueryRow(ctx, query)

	var s SalesSummary
	err := row.Scan(&s.SalesYTD, &s.SalesMTD, &s.QuantityYTD, &s.QuantityMTD, &s.DeliveriesYTD, &s.Customers)
	metrics.RecordClickHouseQuery(time.Since(start), err)
	if err != nil {
		log.Printf("Sales summary query error: %s", SanitizeError(err))
		http.Error(w, "Failed to load sales summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

// RegionSales is one zone's year-to-date totals.
type RegionSales struct {
	Zone       string  `json:"zone"`
	Territory  string  `json:"territory"`
	Sales      float64 `json:"sales"`
	Quantity   float64 `json:"quantity"`
	Deliveries uint64  `json:"deliveries"`
}

// GetSalesRegions returns year-to-date totals broken down by zone and
// territory, largest first.
func GetSalesRegions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	query := `
		SELECT
			zone,
			territory,
			sum(sales) AS sales,
			sum(quantity) AS quantity,
			count(*) AS deliveries
		FROM deliveries
		WHERE delivery_date >= toStartOfYear(today())
		GROUP BY zone, territory
		ORDER BY sales DESC
		LIMIT 100
	`

	start := time.Now()
	rows, err := config.DB.Query(ctx, query)
	metrics.RecordClickHouseQuery(time.Since(start), err)
	if err != nil {
		log.Printf("Sales regions query error: %s", SanitizeError(err))
		http.Error(w, "Failed to load regional sales", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var regions []RegionSales
	for rows.Next() {
		var reg RegionSales
		if err := rows.Scan(&reg.Zone, &reg.Territory, &reg.Sales, &reg.Quantity, &reg.Deliveries); err != nil {
			log.Printf("Sales regions scan error: %s", SanitizeError(err))
			http.Error(w, "Failed to load regional sales", http.StatusInternalServerError)
			return
		}
		regions = append(regions, reg)
	}
	if err := rows.Err(); err != nil {
		log.Printf("Sales regions rows error: %s", SanitizeError(err))
		http.Error(w, "Failed to load regional sales", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Regions []RegionSales `json:"regions"`
	}{Regions: regions})
}
