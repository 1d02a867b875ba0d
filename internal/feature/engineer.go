// Package feature builds fixed-order numeric feature vectors from
// transactions and owns the fitted normalization model.
package feature

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FeatureNames is the fixed feature order shared with the fitted scaler.
// Reordering invalidates any previously fitted scaler artifact.
var FeatureNames = []string{
	"amount", "log_amount", "normalized_amount",
	"hour_sin", "hour_cos", "dow_sin", "dow_cos", "dom_sin", "dom_cos",
	"merchant_category", "channel", "geo_country", "ip_address", "device_id",
	"last_transaction_hours", "tx_count_24h", "tx_count_7d", "currency",
}

// Dim is the feature vector length.
const Dim = 18

// neutralRecencyHours is the recency default used when no historical stats
// are supplied. Log-transformed like the real feature so that an absent
// history reads as "one quiet day", not as a zero-variance placeholder.
const neutralRecencyHours = 24.0

var channelEncoding = map[string]float64{
	"online": 0.0, "pos": 0.33, "atm": 0.66, "mobile": 0.5, "unknown": 0.25,
}

var currencyEncoding = map[string]float64{
	"USD": 0.0, "EUR": 0.2, "GBP": 0.4, "JPY": 0.6,
}

const (
	channelUnknown  = 0.25
	currencyOther   = 0.8
	smallHashBucket = 100  // category, country
	largeHashBucket = 1000 // ip, device
)

// Engineer builds feature vectors and applies the fitted scaler.
type Engineer struct {
	scaler *Scaler
}

// NewEngineer creates an engineer with an unfitted scaler.
func NewEngineer() *Engineer {
	return &Engineer{scaler: NewScaler()}
}

// NewEngineerWithScaler creates an engineer around an already fitted or
// loaded scaler.
func NewEngineerWithScaler(s *Scaler) *Engineer {
	return &Engineer{scaler: s}
}

// Scaler returns the engineer's scaler.
func (e *Engineer) Scaler() *Scaler {
	return e.scaler
}

// BuildFeatures builds the feature vector for a transaction. Deterministic:
// identical inputs produce bit-identical vectors. stats may be nil; recency
// and frequency features then take neutral defaults.
func (e *Engineer) BuildFeatures(tx *domain.Transaction, stats *domain.HistoricalStats) []float64 {
	features := make([]float64, 0, Dim)

	amount := tx.Amount
	features = append(features, amount)
	features = append(features, math.Log1p(amount))

	// Normalized amount needs history; without it the transaction is neither
	// above nor below its own baseline.
	if stats != nil && stats.StdAmount > 0 {
		features = append(features, (amount-stats.AvgAmount)/stats.StdAmount)
	} else {
		features = append(features, 0.0)
	}

	ts := tx.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	features = append(features, cyclic(float64(ts.Hour()), 24)...)
	features = append(features, cyclic(float64(weekday(ts)), 7)...)
	features = append(features, cyclic(float64(ts.Day()), 31)...)

	features = append(features, hashEncode(orUnknown(tx.MerchantCategory), smallHashBucket))
	features = append(features, channelEncode(tx.Channel))
	features = append(features, hashEncode(orUnknown(tx.GeoCountry), smallHashBucket))
	features = append(features, hashEncode(orDefault(tx.IPAddress, "0.0.0.0"), largeHashBucket))
	features = append(features, hashEncode(orUnknown(tx.DeviceID), largeHashBucket))

	if stats != nil {
		features = append(features, math.Log1p(stats.LastTransactionHours))
		features = append(features, float64(stats.TxCount24h))
		features = append(features, math.Log1p(float64(stats.TxCount7d)))
	} else {
		features = append(features, math.Log1p(neutralRecencyHours), 0.0, 0.0)
	}

	features = append(features, currencyEncode(tx.Currency))

	return features
}

// Transform applies the fitted scaler to a single feature vector.
// Returns domain.ErrNotFitted before Fit or a successful load.
func (e *Engineer) Transform(vec []float64) ([]float64, error) {
	return e.scaler.Transform(vec)
}

// FeatureContributions attributes the reconstruction error across features in
// proportion to each feature's absolute magnitude share. This is a naive
// linear attribution, not a gradient-based explanation; treat it as an
// approximation. Contributions sum to reconstructionError unless the vector
// has zero total magnitude, in which case all contributions are zero.
func (e *Engineer) FeatureContributions(vec []float64, reconstructionError float64) map[string]float64 {
	total := 0.0
	for _, v := range vec {
		total += math.Abs(v)
	}

	contributions := make(map[string]float64, len(vec))
	for i, v := range vec {
		name := featureName(i)
		if total > 0 {
			contributions[name] = math.Abs(v) / total * reconstructionError
		} else {
			contributions[name] = 0.0
		}
	}
	return contributions
}

func featureName(i int) string {
	if i < len(FeatureNames) {
		return FeatureNames[i]
	}
	return "feature_" + strconv.Itoa(i)
}

// cyclic encodes a periodic value as sin/cos so the model sees no
// discontinuity at period boundaries.
func cyclic(value, period float64) []float64 {
	angle := 2 * math.Pi * value / period
	return []float64{math.Sin(angle), math.Cos(angle)}
}

// weekday maps to Monday=0..Sunday=6.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// hashEncode maps a string to [0, 1) using FNV-1a over UTF-8 bytes. FNV is
// stable across processes and ports, unlike a runtime's built-in hash.
func hashEncode(s string, buckets uint32) float64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32()%buckets) / float64(buckets)
}

func channelEncode(channel string) float64 {
	if v, ok := channelEncoding[strings.ToLower(channel)]; ok {
		return v
	}
	return channelUnknown
}

func currencyEncode(currency string) float64 {
	if v, ok := currencyEncoding[strings.ToUpper(currency)]; ok {
		return v
	}
	return currencyOther
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
