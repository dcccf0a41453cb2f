package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"listing-sync/models"
	"listing-sync/utils"
)

const shortestCommuteCount = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(rows []*models.ReviewRow) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByStatus: make(map[models.Status]int),
		ListingsByCity:   make(map[string]int),
	}

	if len(rows) == 0 {
		return report
	}

	report.TotalListings = len(rows)

	var priced []*models.ReviewRow
	var commuters []*models.ReviewRow

	for _, r := range rows {
		report.ListingsByStatus[r.Status]++
		if r.City != "" {
			report.ListingsByCity[r.City]++
		}
		if r.ListPrice.Valid && r.ListPrice.Decimal.IsPositive() {
			priced = append(priced, r)
		}
		if r.CommuteMinutes != nil {
			commuters = append(commuters, r)
		}
	}

	// List price stats, only rows with a price.
	if len(priced) > 0 {
		report.MinListPrice = priced[0].ListPrice.Decimal
		report.MaxListPrice = priced[0].ListPrice.Decimal
		report.MostExpensive = priced[0]
		total := decimal.Zero
		for _, r := range priced {
			p := r.ListPrice.Decimal
			total = total.Add(p)
			if p.LessThan(report.MinListPrice) {
				report.MinListPrice = p
			}
			if p.GreaterThan(report.MaxListPrice) {
				report.MaxListPrice = p
				report.MostExpensive = r
			}
		}
		report.AverageListPrice = total.Div(decimal.NewFromInt(int64(len(priced)))).Round(2)
	}

	sort.SliceStable(commuters, func(i, j int) bool {
		return *commuters[i].CommuteMinutes < *commuters[j].CommuteMinutes
	})
	if len(commuters) > shortestCommuteCount {
		commuters = commuters[:shortestCommuteCount]
	}
	report.ShortestCommutes = commuters

	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  🏠 LISTING REVIEW INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Listings under review : \033[1m%d\033[0m\n", r.TotalListings)
	for _, st := range []models.Status{models.StatusActive, models.StatusUnderContract, models.StatusPending, models.StatusClosed, models.StatusUnknown} {
		if n := r.ListingsByStatus[st]; n > 0 {
			fmt.Printf("  %-22s: \033[1m%d\033[0m\n", st, n)
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  List Price Statistics\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AverageListPrice.IsPositive() {
		fmt.Printf("  Average price : \033[1;32m$%s\033[0m\n", r.AverageListPrice.StringFixedBank(0))
		fmt.Printf("  Minimum price : \033[1;32m$%s\033[0m\n", r.MinListPrice.StringFixed(0))
		fmt.Printf("  Maximum price : \033[1;32m$%s\033[0m\n", r.MaxListPrice.StringFixed(0))
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	if r.MostExpensive != nil {
		fmt.Printf("\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.MostExpensive.FullAddress, 50))
		fmt.Printf("  Status : %s\n", r.MostExpensive.Status)
		fmt.Printf("  Price  : \033[1;31m$%s\033[0m\n", r.MostExpensive.ListPrice.Decimal.StringFixed(0))
		fmt.Println()
	}

	fmt.Printf("\033[1;33m  Shortest Commutes\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ShortestCommutes) == 0 {
		fmt.Printf("  No commute data yet\n")
	} else {
		for i, row := range r.ShortestCommutes {
			fmt.Printf("  \033[1m%d.\033[0m %-40s \033[1;32m%.0f min\033[0m\n",
				i+1, truncate(row.FullAddress, 38), *row.CommuteMinutes)
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Listings by City\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ListingsByCity) == 0 {
		fmt.Printf("  No city data\n")
	} else {
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.ListingsByCity {
			cities = append(cities, cityCount{city, cnt})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count != cities[j].count {
				return cities[i].count > cities[j].count
			}
			return cities[i].city < cities[j].city
		})
		for _, cc := range cities {
			bar := strings.Repeat("█", cc.count)
			fmt.Printf("  %-30s %s (%d)\n", truncate(cc.city, 28), bar, cc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
