// Package generator builds seeded synthetic card transaction datasets with
// labeled fraud patterns.
package generator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Fraud type labels carried in Transaction.FraudType.
const (
	FraudHighFrequency    = "high_frequency"
	FraudImpossibleTravel = "impossible_travel"
	FraudHighAmount       = "high_amount"
	FraudUnusualTime      = "unusual_time"
)

// DefaultSeed makes runs reproducible unless a caller picks another seed.
const DefaultSeed = 42

// City is a named location with coordinates.
type City struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Cities are the locations transactions are placed in.
var Cities = []City{
	{"New York, NY", 40.7128, -74.0060},
	{"Los Angeles, CA", 34.0522, -118.2437},
	{"Chicago, IL", 41.8781, -87.6298},
	{"Houston, TX", 29.7604, -95.3698},
	{"Miami, FL", 25.7617, -80.1918},
	{"Seattle, WA", 47.6062, -122.3321},
	{"Boston, MA", 42.3601, -71.0589},
	{"Denver, CO", 39.7392, -104.9903},
	{"Atlanta, GA", 33.7490, -84.3880},
	{"San Francisco, CA", 37.7749, -122.4194},
}

// Merchants are the merchant names normal transactions pick from.
var Merchants = []string{
	"Amazon.com", "Walmart", "Target", "Starbucks", "Shell Gas Station",
	"Whole Foods", "CVS Pharmacy", "Home Depot", "Best Buy", "Chipotle",
	"McDonald's", "Uber", "Netflix", "Apple Store", "Delta Airlines",
	"Hilton Hotels", "Local Restaurant", "Local Grocery", "Gas Station",
	"Online Retailer",
}

var highValueMerchants = []string{"Online Retailer", "Best Buy", "Apple Store"}

// hourWeights favor daytime purchases.
var hourWeights = []int{1, 1, 1, 1, 1, 2, 8, 10, 12, 10, 10, 12, 12, 10, 10, 8, 8, 10, 12, 10, 8, 6, 4, 2}

// Options controls dataset generation.
type Options struct {
	// Users is the number of card holders, USER0001 upward.
	Users int

	// Seed for the random source.
	Seed uint64

	// Now anchors the 90-day history window. Zero means today at midnight UTC.
	Now time.Time

	// FraudUserRate is the share of users given fraud patterns.
	FraudUserRate float64

	// PatternRate is the chance each fraud pattern is applied to a fraud user.
	PatternRate float64
}

// DefaultOptions returns the settings of the reference dataset.
func DefaultOptions() Options {
	return Options{
		Users:         50,
		Seed:          DefaultSeed,
		FraudUserRate: 0.3,
		PatternRate:   0.3,
	}
}

type generator struct {
	rng    *rand.Rand
	opts   Options
	nextID int
	out    []domain.Transaction
}

// Generate builds a dataset sorted chronologically. The same options always
// yield the same dataset.
func Generate(opts Options) []domain.Transaction {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC().Truncate(24 * time.Hour)
	}
	g := &generator{
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		opts:   opts,
		nextID: 1,
	}

	homes := make([]City, opts.Users)
	for i := range homes {
		homes[i] = g.city()
	}

	for i := range opts.Users {
		user := fmt.Sprintf("USER%04d", i+1)
		g.normal(user, homes[i], g.between(30, 50))
		if g.rng.Float64() < opts.FraudUserRate {
			g.fraud(user, homes[i])
		}
	}

	dataset.SortChronological(g.out)
	return g.out
}

func (g *generator) normal(user string, home City, n int) {
	current := g.opts.Now.AddDate(0, 0, -90)
	for range n {
		hour := g.weighted(hourWeights)
		next := current.AddDate(0, 0, g.between(0, 3))
		next = time.Date(next.Year(), next.Month(), next.Day(), hour, g.between(0, 59), 0, 0, time.UTC)
		if !next.After(current) {
			next = next.AddDate(0, 0, 1)
		}
		current = next

		var amount float64
		switch g.weighted([]int{60, 30, 10}) {
		case 0:
			amount = g.uniform(5, 50)
		case 1:
			amount = g.uniform(50, 200)
		default:
			amount = g.uniform(200, 500)
		}

		city := home
		if g.rng.Float64() >= 0.9 {
			city = g.city()
		}

		g.add(user, current, amount, g.merchant(Merchants), city, false, "")
	}
}

func (g *generator) fraud(user string, home City) {
	base := g.opts.Now.AddDate(0, 0, -g.between(10, 80)).
		Add(time.Duration(g.between(0, 23*60+59)) * time.Minute)
	p := g.opts.PatternRate

	// Rapid-fire purchases two minutes apart.
	if g.rng.Float64() < p {
		start := base.AddDate(0, 0, g.between(0, 10))
		for i := range g.between(5, 10) {
			at := start.Add(time.Duration(i*2) * time.Minute)
			g.add(user, at, g.uniform(100, 500), g.merchant(Merchants), home, true, FraudHighFrequency)
		}
	}

	// A purchase at home, then one in another city thirty minutes later.
	if g.rng.Float64() < p {
		at := base.AddDate(0, 0, g.between(0, 10))
		g.add(user, at, g.uniform(50, 200), g.merchant(Merchants), home, true, FraudImpossibleTravel)

		far := g.city()
		for far.Name == home.Name {
			far = g.city()
		}
		g.add(user, at.Add(30*time.Minute), g.uniform(50, 200), g.merchant(Merchants), far, true, FraudImpossibleTravel)
	}

	// Large purchases at high-value merchants.
	if g.rng.Float64() < p {
		day := base.AddDate(0, 0, g.between(0, 10))
		for range g.between(1, 3) {
			at := day.Add(time.Duration(g.between(1, 5)) * time.Hour)
			g.add(user, at, g.uniform(2000, 5000), g.merchant(highValueMerchants), home, true, FraudHighAmount)
		}
	}

	// Purchases in the small hours.
	if g.rng.Float64() < p {
		day := base.AddDate(0, 0, g.between(0, 10))
		hour := g.between(2, 5)
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
		for range g.between(2, 4) {
			at := start.Add(time.Duration(g.between(0, 59)) * time.Minute)
			g.add(user, at, g.uniform(100, 800), g.merchant(Merchants), home, true, FraudUnusualTime)
		}
	}
}

func (g *generator) add(user string, at time.Time, amount float64, merchant string, city City, fraud bool, fraudType string) {
	label := fraud
	g.out = append(g.out, domain.Transaction{
		ID:               fmt.Sprintf("TXN%06d", g.nextID),
		UserID:           user,
		Timestamp:        at.UTC().Truncate(time.Second),
		Amount:           decimal.NewFromFloat(amount).Round(2),
		Merchant:         merchant,
		Location:         city.Name,
		Latitude:         city.Latitude,
		Longitude:        city.Longitude,
		GroundTruthFraud: &label,
		FraudType:        fraudType,
	})
	g.nextID++
}

// between returns an int in [lo, hi].
func (g *generator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *generator) city() City {
	return Cities[g.rng.IntN(len(Cities))]
}

func (g *generator) merchant(from []string) string {
	return from[g.rng.IntN(len(from))]
}

// weighted picks an index with probability proportional to its weight.
func (g *generator) weighted(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	r := g.rng.IntN(total)
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

// Breakdown counts a dataset by label.
type Breakdown struct {
	Total       int
	Legitimate  int
	Fraudulent  int
	ByFraudType map[string]int
}

// Describe summarizes the labels of txs.
func Describe(txs []domain.Transaction) Breakdown {
	b := Breakdown{Total: len(txs), ByFraudType: make(map[string]int)}
	for i := range txs {
		if txs[i].IsFraud() {
			b.Fraudulent++
			b.ByFraudType[txs[i].FraudType]++
		} else {
			b.Legitimate++
		}
	}
	return b
}
